// Package battery holds battery-level samples and the time-windowed log that
// compacts them.
package battery
