package patch

import (
	"time"

	"github.com/vsariola/klavier"
	"golang.org/x/exp/slices"
)

// Alerts is the list of passive notifications currently shown to the user,
// highest priority first.
type Alerts struct {
	alerts []klavier.Alert
}

func (a *Alerts) Add(message string, priority klavier.AlertPriority) {
	a.AddAlert(klavier.Alert{Priority: priority, Message: message, Duration: klavier.DefaultAlertDuration})
}

// AddNamed adds an alert that replaces any earlier alert with the same name.
func (a *Alerts) AddNamed(name, message string, priority klavier.AlertPriority) {
	a.AddAlert(klavier.Alert{Name: name, Priority: priority, Message: message, Duration: klavier.DefaultAlertDuration})
}

func (a *Alerts) AddAlert(alert klavier.Alert) {
	if alert.Duration <= 0 {
		alert.Duration = klavier.DefaultAlertDuration
	}
	if alert.Name != "" {
		a.ClearNamed(alert.Name)
	}
	i := 0
	for i < len(a.alerts) && a.alerts[i].Priority >= alert.Priority {
		i++
	}
	a.alerts = slices.Insert(a.alerts, i, alert)
}

func (a *Alerts) ClearNamed(name string) {
	a.alerts = slices.DeleteFunc(a.alerts, func(x klavier.Alert) bool { return x.Name == name })
}

// Update ages the alerts by d and drops the expired ones. Returns true if
// alerts remain.
func (a *Alerts) Update(d time.Duration) bool {
	for i := range a.alerts {
		a.alerts[i].Duration -= d
	}
	a.alerts = slices.DeleteFunc(a.alerts, func(x klavier.Alert) bool { return x.Duration <= 0 })
	return len(a.alerts) > 0
}

func (a *Alerts) Len() int { return len(a.alerts) }

// Iterate yields the alerts, highest priority first.
func (a *Alerts) Iterate(yield func(index int, alert klavier.Alert) bool) {
	for i, alert := range a.alerts {
		if !yield(i, alert) {
			return
		}
	}
}
