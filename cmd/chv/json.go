package main

import (
	"time"

	"github.com/element-hq/chaosview/internal/snapshot"
)

// jsonOutput is the structure printed by dump.
type jsonOutput struct {
	Connected   bool          `json:"connected"`
	Configured  bool          `json:"configured"`
	Homeservers []string      `json:"homeservers"`
	LatencyMs   int64         `json:"federation_latency_ms"`
	Tick        jsonTick      `json:"tick"`
	Convergence string        `json:"convergence"`
	Netsplit    bool          `json:"netsplit"`
	Restarting  []string      `json:"restarting"`
	Workers     []jsonWorker  `json:"workers"`
	Requests    []jsonRequest `json:"in_flight"`
	Links       []jsonLink    `json:"links"`
	Stats       jsonStats     `json:"stats"`
	BuiltAt     string        `json:"built_at"`
}

type jsonTick struct {
	Number int `json:"number"`
	Joins  int `json:"joins"`
	Sends  int `json:"sends"`
	Leaves int `json:"leaves"`
}

type jsonWorker struct {
	UserID string `json:"user_id"`
	Domain string `json:"domain"`
	Node   string `json:"node"`
	RoomID string `json:"room_id,omitempty"`
	Action string `json:"action"`
}

type jsonRequest struct {
	ID          string `json:"id"`
	Method      string `json:"method"`
	URL         string `json:"url"`
	Blocked     bool   `json:"blocked"`
	Source      string `json:"source,omitempty"`
	Target      string `json:"target,omitempty"`
	RemainingMs int64  `json:"remaining_ms"`
}

type jsonLink struct {
	Source   string `json:"source"`
	Target   string `json:"target"`
	InFlight int    `json:"in_flight"`
	Blocked  int    `json:"blocked"`
}

type jsonStats struct {
	Workers  int `json:"workers"`
	InFlight int `json:"in_flight"`
	Blocked  int `json:"blocked"`
}

// buildJSONOutput converts a snapshot into the JSON output structure.
func buildJSONOutput(snap *snapshot.DataSnapshot) jsonOutput {
	workers := make([]jsonWorker, len(snap.Workers))
	for i, w := range snap.Workers {
		workers[i] = jsonWorker{
			UserID: w.UserID,
			Domain: w.Domain,
			Node:   clientNode(w),
			RoomID: w.RoomID,
			Action: w.Action,
		}
	}

	requests := make([]jsonRequest, len(snap.Requests))
	for i, r := range snap.Requests {
		requests[i] = jsonRequest{
			ID:          r.ID,
			Method:      r.Method,
			URL:         r.URL,
			Blocked:     r.Blocked,
			Source:      r.Source,
			Target:      r.Target,
			RemainingMs: r.Remaining.Milliseconds(),
		}
	}

	links := make([]jsonLink, len(snap.Links))
	for i, l := range snap.Links {
		links[i] = jsonLink{Source: l.Source, Target: l.Target, InFlight: l.InFlight, Blocked: l.Blocked}
	}

	return jsonOutput{
		Connected:   snap.Connected,
		Configured:  snap.Configured,
		Homeservers: nonNil(snap.Homeservers),
		LatencyMs:   snap.Latency.Milliseconds(),
		Tick: jsonTick{
			Number: snap.Tick.Number,
			Joins:  snap.Tick.Joins,
			Sends:  snap.Tick.Sends,
			Leaves: snap.Tick.Leaves,
		},
		Convergence: snap.Convergence,
		Netsplit:    snap.Netsplit,
		Restarting:  nonNil(snap.Restarting),
		Workers:     workers,
		Requests:    requests,
		Links:       links,
		Stats: jsonStats{
			Workers:  len(snap.Workers),
			InFlight: snap.InFlightCount,
			Blocked:  snap.BlockedCount,
		},
		BuiltAt: snap.BuiltAt.Format(time.RFC3339),
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
