package balancer

import (
	"fmt"
	"net"
	"sort"
	"strconv"

	"github.com/allenfu2013/kong/internal/domain"
)

// orderKey derives the total-order key of a target row. Creation timestamps
// alone are not unique, so the row ID breaks ties. The timestamp is
// zero-padded so lexicographic order on the key equals chronological order.
func orderKey(t *domain.Target) string {
	return fmt.Sprintf("%020d:%s", t.CreatedAt.UnixNano(), t.ID)
}

// splitTarget derives (host, port) from a raw "host[:port]" target field.
// A bare host gets the default target port.
func splitTarget(raw string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(raw)
	if err != nil {
		// No port component; the whole field is the host.
		return raw, domain.DefaultTargetPort, nil
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("target '%s' has invalid port: %w", raw, err)
	}
	return host, port, nil
}

// buildHistory normalizes raw target rows into the ordered target history.
// This is the only place total order over target events is established;
// every downstream consumer treats the returned sequence as immutable and
// correctly sorted.
func buildHistory(targets []*domain.Target) ([]domain.TargetEntry, error) {
	history := make([]domain.TargetEntry, 0, len(targets))
	for _, t := range targets {
		host, port, err := splitTarget(t.Target)
		if err != nil {
			return nil, err
		}
		history = append(history, domain.TargetEntry{
			Host:   host,
			Port:   port,
			Weight: t.Weight,
			Order:  orderKey(t),
		})
	}
	sort.Slice(history, func(i, j int) bool {
		return history[i].Order < history[j].Order
	})
	return history, nil
}
