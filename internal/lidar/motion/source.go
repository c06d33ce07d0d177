package motion

import (
	"fmt"
	"strings"
)

// Source identifies how a prior guess was produced.
type Source int

const (
	// Plain extrapolates the previous pose at the last scan-to-scan velocity.
	Plain Source = iota
	// IMU integrates inertial angular rate and linear acceleration.
	IMU
	// Odom integrates wheel-odometry linear and angular velocity.
	Odom
	// IMUOdom takes rotation from the IMU and distance from odometry.
	IMUOdom
)

// Sources lists every Source in declaration order.
var Sources = []Source{Plain, IMU, Odom, IMUOdom}

func (s Source) String() string {
	switch s {
	case Plain:
		return "plain"
	case IMU:
		return "imu"
	case Odom:
		return "odom"
	case IMUOdom:
		return "imu_odom"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler so Source can key JSON maps.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(b []byte) error {
	v, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSource is the inverse of Source.String.
func ParseSource(name string) (Source, error) {
	for _, s := range Sources {
		if strings.EqualFold(name, s.String()) {
			return s, nil
		}
	}
	return Plain, fmt.Errorf("unknown motion source %q", name)
}
