package main

import (
	"github.com/zkbitcoin/committee/internal/deployment"
	"go.uber.org/zap"
)

// openRegistry returns the deployment registry selected by the settings, and
// a function persisting and releasing it.
func openRegistry() (deployment.Registry, func() error, error) {
	if settings.Redis != "" {
		r := deployment.NewRedis(deployment.NewRedisPool(settings.Redis))
		logger.Info("deployment registry", zap.String("redis", settings.Redis))
		return r, r.Close, nil
	}
	m, err := deployment.LoadFile(settings.Deployments)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("deployment registry",
		zap.String("file", settings.Deployments),
		zap.Int("deployments", len(m.All())))
	return m, func() error { return m.SaveFile(settings.Deployments) }, nil
}
