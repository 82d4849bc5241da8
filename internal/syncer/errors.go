package syncer

import (
	"fmt"
	"strings"
)

// ConfigurationError lists the settings a sync cannot start without.
type ConfigurationError struct {
	Missing []string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("notion settings incomplete: missing %s", strings.Join(e.Missing, ", "))
}

// DataSourceNotFoundError reports that the configured sub-source name
// matched nothing, naming what exists instead.
type DataSourceNotFoundError struct {
	Name      string
	Available []string
}

func (e *DataSourceNotFoundError) Error() string {
	available := strings.Join(e.Available, ", ")
	if available == "" {
		available = "none"
	}
	return fmt.Sprintf("data source %q not found; available data sources: %s", e.Name, available)
}
