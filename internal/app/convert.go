package app

import (
	"time"

	"snipebot/internal/config"
	"snipebot/internal/dispatch"
	"snipebot/internal/monitor"
	"snipebot/internal/notifier"
	"snipebot/internal/queue"
	"snipebot/internal/storage"
	"snipebot/internal/transport/httpapi"
)

// The on-disk config uses duration strings; these helpers turn each section
// into the typed config its service expects.

func queueLimits(c config.QueueConfig) (queue.Limits, error) {
	min, err := config.ParseDurationOrDefault("queue.retry_interval_min", c.RetryIntervalMin, 3*time.Second)
	if err != nil {
		return queue.Limits{}, err
	}
	max, err := config.ParseDurationOrDefault("queue.retry_interval_max", c.RetryIntervalMax, 10*time.Minute)
	if err != nil {
		return queue.Limits{}, err
	}
	def, err := config.ParseDurationOrDefault("queue.retry_interval_default", c.RetryIntervalDefault, 30*time.Second)
	if err != nil {
		return queue.Limits{}, err
	}
	return queue.Limits{
		RetryMin:     min,
		RetryMax:     max,
		RetryDefault: def,
		MaxRetries:   c.MaxRetries,
	}, nil
}

func dispatchConfig(c config.DispatchConfig) (dispatch.Config, error) {
	scan, err := config.ParseDurationOrDefault("dispatch.scan_interval", c.ScanInterval, time.Second)
	if err != nil {
		return dispatch.Config{}, err
	}
	return dispatch.Config{
		Enabled:      c.Enabled,
		Workers:      c.Workers,
		QueueSize:    c.QueueSize,
		ScanInterval: scan,
		RatePerSec:   c.RatePerSec,
	}, nil
}

func monitorConfig(c config.MonitorConfig) (monitor.Config, error) {
	poll, err := config.ParseDurationOrDefault("monitor.poll_interval", c.PollInterval, 5*time.Second)
	if err != nil {
		return monitor.Config{}, err
	}
	pace, err := config.ParseDurationOrDefault("monitor.pace", c.Pace, time.Second)
	if err != nil {
		return monitor.Config{}, err
	}
	return monitor.Config{
		Enabled:      c.Enabled,
		PollInterval: poll,
		Pace:         pace,
		HistorySize:  c.HistorySize,
	}, nil
}

// notifierConfig treats a missing section as "enabled with defaults".
func notifierConfig(c *config.NotifierConfig) (notifier.Config, error) {
	if c == nil {
		return notifier.Config{Enabled: true}, nil
	}
	base, err := config.ParseDurationOrDefault("notifier.retry_base", c.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	maxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", c.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	window, err := config.ParseDurationField("notifier.dedup_window", c.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       c.Enabled,
		Workers:       c.Workers,
		QueueSize:     c.QueueSize,
		RatePerSec:    c.RatePerSec,
		RetryMax:      c.RetryMax,
		RetryBase:     base,
		RetryMaxDelay: maxDelay,
		DedupWindow:   window,
	}, nil
}

func storageConfig(c *config.StorageConfig) (storage.Config, error) {
	if c == nil {
		return storage.Config{Driver: "none"}, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", c.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Driver,
		Path:        c.Path,
		BusyTimeout: busy,
	}, nil
}

func apiConfig(c config.APIConfig) (httpapi.Config, error) {
	rt, err := config.ParseDurationOrDefault("api.read_timeout", c.ReadTimeout, 10*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	wt, err := config.ParseDurationOrDefault("api.write_timeout", c.WriteTimeout, 30*time.Second)
	if err != nil {
		return httpapi.Config{}, err
	}
	return httpapi.Config{
		Enabled:      c.Enabled,
		Addr:         c.Addr,
		APIKey:       c.APIKey,
		ReadTimeout:  rt,
		WriteTimeout: wt,
	}, nil
}
