package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"tracetrigger/internal/spec"
)

func runCheck(args []string) int {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	eventSpec := fs.String("event", "", "Event trigger spec, e.g. Provider/Task/Start;TriggerMSec=100")
	counterSpec := fs.String("counter", "", "Counter trigger spec, e.g. Processor:% Processor Time:_Total>90")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if (*eventSpec == "") == (*counterSpec == "") {
		fmt.Fprintln(os.Stderr, "exactly one of -event or -counter is required")
		return 2
	}
	if *eventSpec != "" {
		return checkEvent(os.Stdout, *eventSpec)
	}
	return checkCounter(os.Stdout, *counterSpec)
}

func checkEvent(w io.Writer, text string) int {
	s, err := spec.ParseEvent(text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	fmt.Fprintf(w, "provider:   %s {%s}", s.Provider.Name, s.Provider.GUID)
	if s.Provider.Dynamic {
		fmt.Fprint(w, " dynamic")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "start:      %s\n", s.Start)
	switch {
	case s.SingleEvent():
		fmt.Fprintln(w, "mode:       fire on first matching event")
	case s.Stop != nil:
		fmt.Fprintf(w, "stop:       %s\n", s.Stop)
	default:
		fmt.Fprintln(w, "stop:       derived from first start event")
	}
	if !s.SingleEvent() {
		fmt.Fprintf(w, "threshold:  %g msec\n", s.TriggerMSec)
		key := s.KeySelector.String()
		if key == "" {
			key = "default (activity path, first payload field, activity id, thread)"
		}
		fmt.Fprintf(w, "key:        %s\n", key)
	}
	if s.DecayToZero > 0 {
		fmt.Fprintf(w, "decay:      to zero over %s\n", s.DecayToZero)
	}
	fmt.Fprintf(w, "keywords:   0x%x level %d\n", s.Keywords, s.Level)
	if s.Process != "" {
		fmt.Fprintf(w, "process:    %s\n", s.Process)
	}
	for _, f := range s.Filters {
		fmt.Fprintf(w, "filter:     %s\n", f)
	}
	for _, warning := range s.Warnings {
		fmt.Fprintf(w, "warning:    %s\n", warning)
	}
	return 0
}

func checkCounter(w io.Writer, text string) int {
	s, err := spec.ParseCounter(text)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 2
	}
	fmt.Fprintf(w, "counter:    %s\n", s.ID)
	fmt.Fprintf(w, "condition:  %s %g for %d samples\n", s.Direction(), s.Threshold, s.MinSamples)
	if s.DecayToZero > 0 {
		fmt.Fprintf(w, "decay:      to zero over %s\n", s.DecayToZero)
	}
	if strings.TrimSpace(s.ID.Instance) == "" {
		fmt.Fprintln(w, "warning:    empty instance reads the total")
	}
	return 0
}
