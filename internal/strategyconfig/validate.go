package strategyconfig

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"

	"github.com/wonny/b3quant/internal/contracts"
)

// ValidationError 검증 실패 (프로그램 중단)
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Unwrap lets callers match contracts.ErrInvalidConfiguration
func (e ValidationError) Unwrap() error {
	return contracts.ErrInvalidConfiguration
}

// Warning 권장 위반 (경고만)
type Warning struct {
	Code    string
	Message string
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		// 에러 필드명을 YAML 키로 표시
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		_ = validate.RegisterValidation("rebalance", func(fl validator.FieldLevel) bool {
			return ValidRebalanceFrequency(fl.Field().String())
		})
	})
	return validate
}

// ValidRebalanceFrequency accepts daily|weekly|monthly|quarterly|cron:<spec>
func ValidRebalanceFrequency(freq string) bool {
	switch freq {
	case "daily", "weekly", "monthly", "quarterly":
		return true
	}
	if spec, ok := strings.CutPrefix(freq, "cron:"); ok {
		_, err := cron.ParseStandard(spec)
		return err == nil
	}
	return false
}

// Validate checks all required constraints
// 실패 시 error 반환 (시뮬레이션 시작 전 중단)
func Validate(cfg *Config) error {
	if err := structValidator().Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return toValidationError(verrs[0])
		}
		return ValidationError{"config", err.Error()}
	}

	// === Cross-field ===
	if cfg.Portfolio.SectorCap+1e-12 < cfg.Portfolio.MaxWeightPerAsset {
		// 자산 캡이 섹터 캡보다 크면 자산 캡이 의미 없음: 설정 실수로 간주
		return ValidationError{"portfolio.sector_cap", "must be >= max_weight_per_asset"}
	}
	if cfg.WalkForward.Mode == "rolling" && cfg.WalkForward.Step() > cfg.WalkForward.TestWindowLen {
		return ValidationError{"walk_forward.step_len", "must be <= test_window_len (gaps between test windows)"}
	}
	for i, t := range cfg.Universe.Tickers {
		if strings.TrimSpace(t) != t || strings.ContainsAny(t, " .") {
			return ValidationError{fmt.Sprintf("universe.tickers[%d]", i), "must be a bare B3 ticker (no suffix or spaces)"}
		}
	}

	return nil
}

func toValidationError(fe validator.FieldError) ValidationError {
	field := fe.Namespace()
	if i := strings.Index(field, "."); i >= 0 {
		field = field[i+1:]
	}
	msg := fe.Tag()
	if fe.Param() != "" {
		msg = fmt.Sprintf("%s=%s", fe.Tag(), fe.Param())
	}
	return ValidationError{Field: field, Message: "failed rule " + msg}
}

// Warn checks recommended constraints (non-fatal)
func Warn(cfg *Config) []Warning {
	var warnings []Warning

	n := len(cfg.Universe.TickerList())
	if float64(n)*cfg.Portfolio.MaxWeightPerAsset < 1 {
		warnings = append(warnings, Warning{
			Code:    "NEVER_FULLY_INVESTED",
			Message: fmt.Sprintf("%d tickers × max_weight %.2f < 1: portfolio always holds cash", n, cfg.Portfolio.MaxWeightPerAsset),
		})
	}

	if cfg.Costs.SlippageBps < 5 {
		warnings = append(warnings, Warning{
			Code:    "OPTIMISTIC_SLIPPAGE",
			Message: "slippage_bps < 5: B3 체결 비용을 과소평가할 수 있음",
		})
	}

	if cfg.Portfolio.TurnoverBudget < 0.2 {
		warnings = append(warnings, Warning{
			Code:    "TIGHT_TURNOVER",
			Message: "turnover_budget < 0.2: 초기 진입이 여러 리밸런싱에 걸쳐 분산됨",
		})
	}

	if cfg.WalkForward.TrainWindowLen < 63 && len(cfg.Signals.ConvictionLambdaGrid) > 0 {
		warnings = append(warnings, Warning{
			Code:    "SHORT_TRAIN_WINDOW",
			Message: "train_window_len < 63 with lambda grid: tuning on under a quarter of data",
		})
	}

	return warnings
}
