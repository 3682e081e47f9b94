package diagnosis

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/Ind1x1/dlock/pkg/config"
	"github.com/Ind1x1/dlock/pkg/log"
)

// The well-known solution identity the coordinator looks for. Solutions
// that don't match are not errors, just irrelevant to this pipeline.
const (
	identityName        = "ACTION"
	identityAttribution = "IS"
	identityDescription = "EVENT"
)

// Solution is one record produced by an upstream inference component.
type Solution struct {
	Name        string
	Attribution string
	Description string
	Configs     map[string]string
}

// Coordinate scans solutions in order and converts the first one
// matching the well-known event identity into an EventAction. A
// matching solution missing a required config key is dropped and
// logged; the scan continues over the remaining solutions rather than
// failing outright (spec section 7, "Validation errors"). An empty
// list, or no match at all, yields NoAction.
func Coordinate(solutions []Solution) Action {
	for _, sol := range solutions {
		if sol.Name != identityName || sol.Attribution != identityAttribution || sol.Description != identityDescription {
			continue
		}
		action, err := buildEventAction(sol.Configs)
		if err != nil {
			log.Warn(fmt.Sprintf("diagnosis: dropping solution: %v", err))
			continue
		}
		return action
	}
	return NoAction{}
}

func buildEventAction(configs map[string]string) (EventAction, error) {
	required := []string{"event_type", "event_instance", "event_action", "event_msg", "event_labels"}
	for _, k := range required {
		if _, ok := configs[k]; !ok {
			return EventAction{}, fmt.Errorf("missing required config %q", k)
		}
	}

	var labels map[string]string
	if err := json.Unmarshal([]byte(configs["event_labels"]), &labels); err != nil {
		return EventAction{}, fmt.Errorf("event_labels is not a valid mapping: %w", err)
	}
	if labels == nil {
		labels = map[string]string{}
	}

	expired := config.DefaultEventExpiredTime
	if v, ok := configs["expired_time_period"]; ok && v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return EventAction{}, fmt.Errorf("expired_time_period is not an integer: %w", err)
		}
		expired = time.Duration(secs) * time.Second
	}

	var executable time.Duration
	if v, ok := configs["executable_time_period"]; ok && v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return EventAction{}, fmt.Errorf("executable_time_period is not an integer: %w", err)
		}
		executable = time.Duration(secs) * time.Second
	}

	return EventAction{
		EventType:            configs["event_type"],
		EventInstance:        configs["event_instance"],
		Action:               configs["event_action"],
		Msg:                  configs["event_msg"],
		Labels:               labels,
		ExpiredTimePeriod:    expired,
		ExecutableTimePeriod: executable,
	}, nil
}
