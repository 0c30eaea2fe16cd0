package config

import (
	"fmt"
	"math"
)

func validate(c *Config) error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required (--base-url or DEALHOUND_BASE_URL)")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be > 0")
	}
	if c.MaxLoad < c.BatchSize {
		return fmt.Errorf("max load %d must be >= batch size %d", c.MaxLoad, c.BatchSize)
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("worker count must be > 0")
	}
	if c.PoolSize <= 0 || c.PoolSize > MaxPoolSize {
		return fmt.Errorf("pool size must be between 1 and %d", MaxPoolSize)
	}
	if c.MinDelay < 0 || c.MaxDelay < c.MinDelay {
		return fmt.Errorf("delay range [%v, %v] is invalid", c.MinDelay, c.MaxDelay)
	}
	if c.FailMinDelay < 0 || c.FailMaxDelay < c.FailMinDelay {
		return fmt.Errorf("failure delay range [%v, %v] is invalid", c.FailMinDelay, c.FailMaxDelay)
	}
	if c.Intervals.Base <= 0 || c.Intervals.Min <= 0 || c.Intervals.Max < c.Intervals.Min {
		return fmt.Errorf("update intervals are invalid")
	}
	if c.RetryCount < 0 {
		return fmt.Errorf("retry count must be >= 0")
	}
	if c.Epsilon < 0 || c.Epsilon > 1 {
		return fmt.Errorf("cursor epsilon must be in [0, 1]")
	}
	if sum := c.Weights.Sum(); math.Abs(sum-1) > 0.001 {
		return fmt.Errorf("priority weights must sum to 1.0, got %.3f", sum)
	}
	for name, w := range map[string]float64{
		"price":      c.Weights.Price,
		"time":       c.Weights.Time,
		"popularity": c.Weights.Popularity,
		"discount":   c.Weights.Discount,
		"jitter":     c.Weights.Jitter,
	} {
		if w < 0 {
			return fmt.Errorf("%s weight must be >= 0", name)
		}
	}
	return nil
}
