package config

import (
	"errors"
	"fmt"
)

// Validate checks structural constraints that defaults cannot repair.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Upstream.BaseURL == "" {
		errs = append(errs, errors.New("upstream.base_url is required"))
	}

	for i, tier := range cfg.Generation.Tiers {
		if tier.Name == "" {
			errs = append(errs, fmt.Errorf("generation.tiers[%d]: name is required", i))
		}
		if tier.MaxInputTokens <= 0 {
			errs = append(errs, fmt.Errorf("generation.tiers[%d]: max_input_tokens must be positive", i))
		}
		if tier.MaxOutputTokens <= 0 {
			errs = append(errs, fmt.Errorf("generation.tiers[%d]: max_output_tokens must be positive", i))
		}
		if tier.MaxRetries < 1 {
			errs = append(errs, fmt.Errorf("generation.tiers[%d]: max_retries must be >= 1", i))
		}
	}

	if cfg.Context.ChunkOverlap < 0 {
		errs = append(errs, errors.New("context.chunk_overlap must not be negative"))
	}
	if cfg.Context.ChunkSize > 0 && cfg.Context.ChunkOverlap >= cfg.Context.ChunkSize {
		errs = append(errs, errors.New("context.chunk_overlap must be smaller than context.chunk_size"))
	}

	return errors.Join(errs...)
}
