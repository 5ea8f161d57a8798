package battery_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/srg/blebatt/internal/battery"
	"github.com/stretchr/testify/suite"
)

const window = int64(200)

type ReadingLogTestSuite struct {
	suite.Suite
	log *battery.ReadingLog
}

func (suite *ReadingLogTestSuite) SetupTest() {
	suite.log = battery.NewReadingLog(200 * time.Millisecond)
}

func (suite *ReadingLogTestSuite) seed(readings ...battery.Reading) {
	// Seed readings must be recent relative to each other and differ in level.
	for _, r := range readings {
		suite.log.Record(r.Level, r.Timestamp)
	}
	suite.Require().Len(suite.log.Entries(), len(readings), "seed MUST produce one entry per reading")
}

func (suite *ReadingLogTestSuite) TestFirstReading() {
	// GOAL: Verify the first notification for a device is always stored
	//
	// TEST SCENARIO: Empty log → Record(L, T) → exactly one entry {L, T}

	suite.log.Record(81, 1000)

	suite.Equal([]battery.Reading{{Level: 81, Timestamp: 1000}}, suite.log.Entries(), "log MUST hold exactly the first reading")
}

func (suite *ReadingLogTestSuite) TestSteadyValueCollapsesWithinWindow() {
	// GOAL: Verify identical notifications inside the window are discarded
	//
	// TEST SCENARIO: Log {L, T0} → Record(L, T1) for T0 ≤ T1 < T0+WINDOW → log unchanged

	for _, t1 := range []int64{1000, 1001, 1000 + window - 1} {
		suite.Run(fmt.Sprintf("t1=%d", t1), func() {
			suite.SetupTest()
			suite.log.Record(81, 1000)

			suite.log.Record(81, t1)

			suite.Equal([]battery.Reading{{Level: 81, Timestamp: 1000}}, suite.log.Entries(), "timestamp MUST NOT be refreshed inside window")
		})
	}
}

func (suite *ReadingLogTestSuite) TestStaleSameValueRefreshesInPlace() {
	// GOAL: Verify a stale entry is refreshed instead of growing the log
	//
	// TEST SCENARIO: Log {L, T0} → Record(L, T1) for T1 ≥ T0+WINDOW → single entry {L, T1}

	for _, t1 := range []int64{1000 + window, 1000 + window + 1, 1_000_000} {
		suite.Run(fmt.Sprintf("t1=%d", t1), func() {
			suite.SetupTest()
			suite.log.Record(81, 1000)

			suite.log.Record(81, t1)

			suite.Equal([]battery.Reading{{Level: 81, Timestamp: t1}}, suite.log.Entries(), "entry MUST be refreshed in place")
		})
	}
}

func (suite *ReadingLogTestSuite) TestChangeWithinWindowAppends() {
	// GOAL: Verify a level change while notifications are still recent is kept as a new point
	//
	// TEST SCENARIO: Log {80, T0} → Record(81, T1 < T0+WINDOW) → two entries, first unchanged

	suite.log.Record(80, 1000)

	suite.log.Record(81, 1100)

	suite.Equal([]battery.Reading{
		{Level: 80, Timestamp: 1000},
		{Level: 81, Timestamp: 1100},
	}, suite.log.Entries(), "changed level MUST be appended")
}

func (suite *ReadingLogTestSuite) TestChangeAfterWindowOverwrites() {
	// GOAL: Verify a level change after the window replaces the stale entry
	//
	// TEST SCENARIO: Log {80, T0} → Record(81, T1 ≥ T0+WINDOW) → still one entry {81, T1}

	suite.log.Record(80, 1000)

	suite.log.Record(81, 1000+window)

	suite.Equal([]battery.Reading{{Level: 81, Timestamp: 1000 + window}}, suite.log.Entries(), "stale entry MUST be overwritten, not appended")
}

func (suite *ReadingLogTestSuite) TestOnlyFirstStaleEntryIsTouched() {
	// GOAL: Verify first-match semantics when several entries are stale
	//
	// TEST SCENARIO: Three entries, all stale → Record → only index 0 changes

	suite.seed(
		battery.Reading{Level: 90, Timestamp: 0},
		battery.Reading{Level: 85, Timestamp: 10},
		battery.Reading{Level: 80, Timestamp: 20},
	)

	suite.log.Record(70, 5000)

	suite.Equal([]battery.Reading{
		{Level: 70, Timestamp: 5000},
		{Level: 85, Timestamp: 10},
		{Level: 80, Timestamp: 20},
	}, suite.log.Entries(), "only the first stale entry MUST be overwritten")

	suite.log.Record(60, 5001)

	suite.Equal([]battery.Reading{
		{Level: 70, Timestamp: 5000},
		{Level: 60, Timestamp: 5001},
		{Level: 80, Timestamp: 20},
	}, suite.log.Entries(), "scan MUST skip recent entries and stop at the next stale one")
	suite.Equal(3, suite.log.Len(), "log MUST NOT shrink")
}

func (suite *ReadingLogTestSuite) TestAppendComparesAgainstLastEntry() {
	// GOAL: Verify the duplicate check only looks at the chronologically last entry
	//
	// TEST SCENARIO: {80}, {81} both recent → Record(80) → appended since last is 81

	suite.seed(
		battery.Reading{Level: 80, Timestamp: 1000},
		battery.Reading{Level: 81, Timestamp: 1010},
	)

	suite.log.Record(80, 1020)

	suite.Equal(3, suite.log.Len(), "level equal to an older entry MUST still be appended")
	last, ok := suite.log.Last()
	suite.True(ok)
	suite.Equal(battery.Reading{Level: 80, Timestamp: 1020}, last)
}

func (suite *ReadingLogTestSuite) TestNotificationScenario() {
	// GOAL: Verify the notification sequence 90@0, 90@50, 85@100, 85@400 with a 200ms window
	//
	// TEST SCENARIO: steady value discarded → change appended → stale head overwritten, tail orphaned

	suite.log.Record(90, 0)
	suite.Equal([]battery.Reading{{Level: 90, Timestamp: 0}}, suite.log.Entries())

	suite.log.Record(90, 50)
	suite.Equal([]battery.Reading{{Level: 90, Timestamp: 0}}, suite.log.Entries(), "steady value MUST be discarded")

	suite.log.Record(85, 100)
	suite.Equal([]battery.Reading{
		{Level: 90, Timestamp: 0},
		{Level: 85, Timestamp: 100},
	}, suite.log.Entries(), "change inside window MUST be appended")

	suite.log.Record(85, 400)
	suite.Equal([]battery.Reading{
		{Level: 85, Timestamp: 400},
		{Level: 85, Timestamp: 100},
	}, suite.log.Entries(), "first stale entry MUST be overwritten and the second left untouched")
	suite.Equal("85%, 85%", suite.log.Label())
}

func (suite *ReadingLogTestSuite) TestEntriesReturnsCopy() {
	suite.log.Record(50, 0)

	entries := suite.log.Entries()
	entries[0].Level = 1

	suite.Equal(uint8(50), suite.log.Entries()[0].Level, "callers MUST NOT mutate the log through Entries")
}

func (suite *ReadingLogTestSuite) TestWindowDefaults() {
	suite.Equal(battery.DefaultWindow, battery.NewReadingLog(0).Window(), "zero window MUST fall back to default")
	suite.Equal(150*time.Millisecond, battery.NewReadingLog(150*time.Millisecond).Window())

	_, ok := battery.NewReadingLog(0).Last()
	suite.False(ok, "empty log MUST have no last entry")
}

func TestReadingLogTestSuite(t *testing.T) {
	suite.Run(t, new(ReadingLogTestSuite))
}
