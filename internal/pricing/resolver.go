// Package pricing は講座価格を決済通貨の最小単位に換算する。
// 為替レートは外部APIから取得し、TTL付きでキャッシュする。
package pricing

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/hitoshi/coursemart/internal/model"
	"github.com/shopspring/decimal"
)

var (
	minorUnitsPerMajor = decimal.NewFromInt(100)
	maxMinorUnits      = decimal.NewFromInt(math.MaxInt64)
)

// RateSource は通貨ペアの為替レートを取得するインターフェース。
type RateSource interface {
	// Rate は1単位のfrom通貨がto通貨でいくらかを返す。
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// Resolver は講座価格を決済通貨の最小単位に換算する。
type Resolver struct {
	source RateSource
	cache  RateCache
	ttl    time.Duration
	logger *slog.Logger
}

// NewResolver はResolverを生成する。cacheがnilの場合はプロセス内キャッシュを使用する。
func NewResolver(source RateSource, cache RateCache, ttl time.Duration, logger *slog.Logger) *Resolver {
	if cache == nil {
		cache = NewMemoryCache()
	}
	return &Resolver{
		source: source,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// ResolveMinorUnits はfrom通貨建ての価格をto通貨の最小単位（整数）に換算する。
// 価格が0以下の場合はINVALID_PRICE、レートが取得できない場合はCONVERSION_UNAVAILABLEを返す。
func (r *Resolver) ResolveMinorUnits(ctx context.Context, price decimal.Decimal, from, to string) (int64, error) {
	if !price.IsPositive() {
		return 0, model.NewInvalidPriceError(price.String())
	}

	rate, err := r.Rate(ctx, from, to)
	if err != nil {
		return 0, err
	}

	return ToMinorUnits(price, rate)
}

// Rate はキャッシュを優先してfrom→toの為替レートを返す。
// 同一通貨の場合は外部APIを呼ばずに1を返す。
func (r *Resolver) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	from, to = strings.ToLower(from), strings.ToLower(to)
	if from == to {
		return decimal.NewFromInt(1), nil
	}

	rate, ok, err := r.cache.Get(ctx, from, to)
	if err != nil {
		// キャッシュ障害時は外部APIから取得する
		r.logger.Warn("rate cache lookup failed",
			slog.String("from", from),
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
	}
	if ok {
		return rate, nil
	}

	rate, err = r.source.Rate(ctx, from, to)
	if err != nil {
		r.logger.Error("exchange rate fetch failed",
			slog.String("from", from),
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
		return decimal.Zero, model.NewConversionUnavailableError(from, to)
	}
	if !rate.IsPositive() {
		r.logger.Error("exchange rate source returned non-positive rate",
			slog.String("from", from),
			slog.String("to", to),
			slog.String("rate", rate.String()),
		)
		return decimal.Zero, model.NewConversionUnavailableError(from, to)
	}

	if err := r.cache.Set(ctx, from, to, rate, r.ttl); err != nil {
		r.logger.Warn("rate cache store failed",
			slog.String("from", from),
			slog.String("to", to),
			slog.String("error", err.Error()),
		)
	}

	return rate, nil
}

// ToMinorUnits はround(price * rate * 100)を計算する。
// 丸めは0から遠い方向への四捨五入。結果が正の整数にならない場合はINVALID_PRICEを返す。
func ToMinorUnits(price, rate decimal.Decimal) (int64, error) {
	if !price.IsPositive() {
		return 0, model.NewInvalidPriceError(price.String())
	}

	amount := price.Mul(rate).Mul(minorUnitsPerMajor).Round(0)
	if !amount.IsPositive() || amount.GreaterThan(maxMinorUnits) {
		return 0, model.NewInvalidPriceError(price.String())
	}

	return amount.IntPart(), nil
}
