package catalog

import "fmt"

// ConfigError reports an invalid metric catalog. It is raised while loading,
// never per entity.
type ConfigError struct {
	Metric string
	Msg    string
}

func (e *ConfigError) Error() string {
	if e.Metric == "" {
		return "catalog: " + e.Msg
	}
	return fmt.Sprintf("catalog: metric %q: %s", e.Metric, e.Msg)
}

func configErrorf(metric, format string, args ...interface{}) error {
	return &ConfigError{Metric: metric, Msg: fmt.Sprintf(format, args...)}
}
