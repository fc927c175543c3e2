package logger

import "go.uber.org/zap"

// New builds the service logger: human-readable in development, JSON in
// production. The composition root owns the returned instance and passes it
// down explicitly; there is no package-level logger.
func New(env string) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if env == "development" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}
