package recorddb

import (
	"fmt"
	"math"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/udpbridge/internal/packet"
)

// Session groups the rows written by one receiver run.
type Session struct {
	db *DB
	ID uuid.UUID

	bus     atomic.Uint64
	sensor  atomic.Uint64
	unknown atomic.Uint64
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// StartSession inserts a new session row.
func (db *DB) StartSession(listenAddr string, at time.Time) (*Session, error) {
	s := &Session{db: db, ID: uuid.New()}
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, listen_addr, started_at) VALUES (?, ?, ?)`,
		s.ID.String(), listenAddr, unixSeconds(at),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return s, nil
}

// RecordBus stores one bus frame.
func (s *Session) RecordBus(src netip.AddrPort, at time.Time, p packet.BusPacket) error {
	f, err := packet.ParseFrame(p.Frame)
	if err != nil {
		return err
	}
	var ts any
	if p.Layout() == packet.LayoutFD {
		ts = int64(p.Timestamp)
	}
	_, err = s.db.Exec(
		`INSERT INTO bus_frames (
			session_id, received_at, source, layout, interface_id, can_id,
			extended, rtr, len, flags, data, timestamp_ns
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), unixSeconds(at), src.String(), p.Layout().String(), p.InterfaceID, f.Identifier(),
		f.Extended(), f.ID&packet.CANRTRFlag != 0, f.Len, f.Flags, f.Payload(), ts,
	)
	if err != nil {
		return fmt.Errorf("failed to insert bus frame: %w", err)
	}
	s.bus.Add(1)
	return nil
}

// RecordSensor stores one sensor reading. The raw union is kept as is and
// also stored read as a double, with NaN and infinities as 0.
func (s *Session) RecordSensor(src netip.AddrPort, at time.Time, p packet.SensorPacket) error {
	value := p.Float64()
	if math.IsNaN(value) || math.IsInf(value, 0) {
		value = 0
	}
	var devName, chName, valueStr any
	if p.Long {
		devName, chName, valueStr = p.DeviceName, p.ChannelName, p.ValueString
	}
	_, err := s.db.Exec(
		`INSERT INTO sensor_readings (
			session_id, received_at, source, device_id, channel_id, quality,
			raw, value, device_name, channel_name, value_string
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID.String(), unixSeconds(at), src.String(), p.DeviceID, p.ChannelID, p.Quality,
		int64(p.Raw), value, devName, chName, valueStr,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sensor reading: %w", err)
	}
	s.sensor.Add(1)
	return nil
}

// RecordUnknown counts a datagram that matched no layout.
func (s *Session) RecordUnknown() {
	s.unknown.Add(1)
}

// End stamps the end time and per-kind counts.
func (s *Session) End(at time.Time) error {
	_, err := s.db.Exec(
		`UPDATE sessions
		SET ended_at = ?, bus_count = ?, sensor_count = ?, unknown_count = ?
		WHERE session_id = ?`,
		unixSeconds(at), s.bus.Load(), s.sensor.Load(), s.unknown.Load(), s.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("failed to end session: %w", err)
	}
	return nil
}

// SessionSummary is a row of the sessions table.
type SessionSummary struct {
	ID           string   `json:"session_id"`
	ListenAddr   string   `json:"listen_addr"`
	StartedAt    float64  `json:"started_at"`
	EndedAt      *float64 `json:"ended_at,omitempty"`
	BusCount     int64    `json:"bus_count"`
	SensorCount  int64    `json:"sensor_count"`
	UnknownCount int64    `json:"unknown_count"`
}

// Sessions lists sessions, newest first.
func (db *DB) Sessions() ([]SessionSummary, error) {
	rows, err := db.Query(`
		SELECT session_id, listen_addr, started_at, ended_at, bus_count, sensor_count, unknown_count
		FROM sessions
		ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var s SessionSummary
		if err := rows.Scan(&s.ID, &s.ListenAddr, &s.StartedAt, &s.EndedAt, &s.BusCount, &s.SensorCount, &s.UnknownCount); err != nil {
			return nil, fmt.Errorf("failed to scan session row: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}
