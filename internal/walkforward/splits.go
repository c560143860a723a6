package walkforward

import (
	"fmt"
	"time"

	"github.com/wonny/b3quant/internal/contracts"
	"github.com/wonny/b3quant/internal/strategyconfig"
)

// Split modes
const (
	ModeRolling   = "rolling"
	ModeExpanding = "expanding"
)

// Split is one train/test partition of the trading-day index
type Split struct {
	Index     int              `json:"index"`
	Window    contracts.Window `json:"window"`
	TrainDays []time.Time      `json:"-"`
	TestDays  []time.Time      `json:"-"`
}

// GenerateSplits partitions days into train/test windows.
// rolling: train [i, i+train); expanding: train [0, i+train);
// test [i+train, i+train+test); i advances by step. Partial test windows are dropped.
func GenerateSplits(days []time.Time, cfg strategyconfig.WalkForward) ([]Split, error) {
	train, test, step := cfg.TrainWindowLen, cfg.TestWindowLen, cfg.Step()
	if train < 1 || test < 1 || step < 1 {
		return nil, fmt.Errorf("%w: walk-forward windows must be positive (train=%d test=%d step=%d)",
			contracts.ErrInvalidConfiguration, train, test, step)
	}
	if cfg.Mode != ModeRolling && cfg.Mode != ModeExpanding {
		return nil, fmt.Errorf("%w: unknown walk-forward mode %q", contracts.ErrInvalidConfiguration, cfg.Mode)
	}

	var splits []Split
	for i := 0; i+train+test <= len(days); i += step {
		trainStart := i
		if cfg.Mode == ModeExpanding {
			trainStart = 0
		}
		trainDays := days[trainStart : i+train]
		testDays := days[i+train : i+train+test]

		splits = append(splits, Split{
			Index: len(splits),
			Window: contracts.Window{
				TrainStart: trainDays[0],
				TrainEnd:   trainDays[len(trainDays)-1],
				TestStart:  testDays[0],
				TestEnd:    testDays[len(testDays)-1],
			},
			TrainDays: trainDays,
			TestDays:  testDays,
		})
	}
	return splits, nil
}
