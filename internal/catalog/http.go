package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"snipebot/pkg/logx"
)

// HTTPConfig points the provider client at the upstream availability API.
type HTTPConfig struct {
	BaseURL    string
	APIKey     string
	Subsidiary string
	Timeout    time.Duration
}

// HTTPProvider fetches availability from the upstream REST API.
//
// The availability endpoint returns one entry per purchasable
// configuration:
//
//	[{"planCode":"24sk202","memory":"ram-32g","storage":"ssd-2x480",
//	  "options":["ram-32g"],
//	  "datacenters":[{"datacenter":"gra","availability":"1H-high"}, ...]}]
type HTTPProvider struct {
	cfg    HTTPConfig
	client *http.Client
	log    logx.Logger
}

func NewHTTPProvider(cfg HTTPConfig, log logx.Logger) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &HTTPProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log,
	}
}

type availabilityEntry struct {
	PlanCode    string   `json:"planCode"`
	Server      string   `json:"server"`
	Memory      string   `json:"memory"`
	Storage     string   `json:"storage"`
	Options     []string `json:"options"`
	Datacenters []struct {
		Datacenter   string `json:"datacenter"`
		Availability string `json:"availability"`
	} `json:"datacenters"`
}

func (p *HTTPProvider) GetCatalog(ctx context.Context, planCode string) (Plan, error) {
	planCode = strings.ToLower(strings.TrimSpace(planCode))

	u := strings.TrimRight(p.cfg.BaseURL, "/") + "/datacenter/availabilities?planCode=" + url.QueryEscape(planCode)
	var entries []availabilityEntry
	if err := p.getJSON(ctx, u, &entries); err != nil {
		return Plan{}, fmt.Errorf("availability for %s: %w", planCode, err)
	}

	plan := Plan{PlanCode: planCode}
	for _, e := range entries {
		if e.PlanCode != "" && !strings.EqualFold(e.PlanCode, planCode) {
			continue
		}
		off := Offer{
			Options:     e.Options,
			Memory:      e.Memory,
			Storage:     e.Storage,
			Datacenters: make(map[string]string, len(e.Datacenters)),
		}
		if plan.Name == "" {
			plan.Name = e.Server
		}
		for _, dc := range e.Datacenters {
			off.Datacenters[strings.ToLower(dc.Datacenter)] = dc.Availability
		}
		plan.Offers = append(plan.Offers, off)
	}
	return plan, nil
}

type planListEntry struct {
	PlanCode string `json:"planCode"`
	Name     string `json:"invoiceName"`
	Blobs    struct {
		Technical struct {
			CPU struct {
				Brand string `json:"brand"`
				Model string `json:"model"`
			} `json:"cpu"`
			Memory struct {
				Size int `json:"size"`
			} `json:"memory"`
			Storage struct {
				Disks []struct {
					Capacity   int    `json:"capacity"`
					Technology string `json:"technology"`
				} `json:"disks"`
			} `json:"storage"`
			Bandwidth struct {
				Level int `json:"level"`
			} `json:"bandwidth"`
		} `json:"technical"`
	} `json:"blobs"`
}

func (p *HTTPProvider) ListPlans(ctx context.Context) ([]Summary, error) {
	u := strings.TrimRight(p.cfg.BaseURL, "/") + "/catalog"
	if p.cfg.Subsidiary != "" {
		u += "?ovhSubsidiary=" + url.QueryEscape(p.cfg.Subsidiary)
	}

	var body struct {
		Plans []planListEntry `json:"plans"`
	}
	if err := p.getJSON(ctx, u, &body); err != nil {
		return nil, fmt.Errorf("plan listing: %w", err)
	}

	out := make([]Summary, 0, len(body.Plans))
	for _, e := range body.Plans {
		tech := e.Blobs.Technical
		s := Summary{
			PlanCode: strings.ToLower(e.PlanCode),
			Name:     e.Name,
		}
		if tech.CPU.Model != "" {
			s.CPU = strings.TrimSpace(tech.CPU.Brand + " " + tech.CPU.Model)
		}
		if tech.Memory.Size > 0 {
			s.Memory = fmt.Sprintf("%dGB", tech.Memory.Size)
		}
		if len(tech.Storage.Disks) > 0 {
			d := tech.Storage.Disks[0]
			s.Storage = fmt.Sprintf("%dx%dGB %s", len(tech.Storage.Disks), d.Capacity, d.Technology)
		}
		if tech.Bandwidth.Level > 0 {
			s.Bandwidth = fmt.Sprintf("%dMbps", tech.Bandwidth.Level)
		}
		out = append(out, s)
	}
	return out, nil
}

func (p *HTTPProvider) getJSON(ctx context.Context, url string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("X-API-Key", p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
