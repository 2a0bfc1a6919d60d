package provider

import (
	"github.com/dalfonso89/currency-dashboard/internal/apperrors"
	"github.com/dalfonso89/currency-dashboard/internal/config"
	"github.com/dalfonso89/currency-dashboard/internal/logger"
)

// ProviderFactory creates provider instances
type ProviderFactory struct {
	config  *config.Config
	logger  *logger.Logger
	options []Option
}

// NewProviderFactory creates a new provider factory
func NewProviderFactory(config *config.Config, logger *logger.Logger, options ...Option) *ProviderFactory {
	return &ProviderFactory{
		config:  config,
		logger:  logger,
		options: options,
	}
}

// CreateSources creates a source for every enabled provider. Misconfigured providers are logged
// and skipped; the first such error is returned alongside the usable sources.
func (pf *ProviderFactory) CreateSources() ([]RateSource, error) {
	sources := make([]RateSource, 0, len(pf.config.ExchangeRateProviders))
	options := append([]Option{WithCatalogBase(pf.config.CatalogBase)}, pf.options...)

	var firstErr error
	for _, providerConfig := range pf.config.ExchangeRateProviders {
		if !providerConfig.Enabled {
			continue
		}

		source, err := NewHTTPSource(providerConfig, pf.logger, options...)
		if err != nil {
			pf.logger.ForProvider(providerConfig.Name).WithError(err).Error("Provider excluded")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sources = append(sources, source)
	}
	return sources, firstErr
}

// CreateSource composes the usable providers behind failover. With none left, the returned source
// fails every call with a configuration error.
func (pf *ProviderFactory) CreateSource() RateSource {
	sources, err := pf.CreateSources()
	if len(sources) == 0 {
		if err == nil {
			err = apperrors.Newf(apperrors.KindConfiguration, "provider.New", "no exchange rate providers configured")
		}
		pf.logger.WithError(err).Error("No exchange rate provider available")
		return NewUnavailableSource(err)
	}
	return NewFailoverSource(sources, pf.logger)
}
