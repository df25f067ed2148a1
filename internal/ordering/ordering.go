// Package ordering determines the temporal order in which liquidity, volume
// and price cross statistically-defined onset thresholds after an event.
//
// Each of the three signals shares one pattern: baseline mean and population
// standard deviation from the pre-window, a k-sigma threshold, then a
// chronological scan of the post-window for the first crossing.
package ordering

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/marketshock/forensics/internal/models"
	"github.com/marketshock/forensics/internal/windows"
)

// OnsetType identifies which signal an onset belongs to.
type OnsetType string

const (
	OnsetLiquidity OnsetType = "liquidity"
	OnsetVolume    OnsetType = "volume"
	OnsetPrice     OnsetType = "price"
)

// Classification labels.
const (
	ClassLiquidityFirst = "liquidity-first"
	ClassVolumeFirst    = "volume-first"
	ClassPriceFirst     = "price-first"
	ClassUndetermined   = "undetermined"
)

// DefaultVolumeBucketSeconds is the documented fallback for the optional
// volume bucket duration.
const DefaultVolumeBucketSeconds = 5.0

// Degenerate-std fallbacks, proportional to the baseline. They replace a zero
// or undefined standard deviation so the threshold band never collapses to
// zero width.
const (
	spreadStdFallback = 0.01
	volumeStdFallback = 0.1
	priceStdFallback  = 0.001
)

// Config drives the onset analysis.
type Config struct {
	KStd                float64 // threshold multiplier k
	VolumeBucketSeconds float64 // 0 means DefaultVolumeBucketSeconds
}

func (c Config) bucketSeconds() float64 {
	if c.VolumeBucketSeconds == 0 {
		return DefaultVolumeBucketSeconds
	}
	return c.VolumeBucketSeconds
}

// Validate checks analysis parameters.
func (c Config) Validate() error {
	if c.KStd == 0 {
		return fmt.Errorf("threshold_std_multiplier is required")
	}
	if c.VolumeBucketSeconds < 0 {
		return fmt.Errorf("volume_bucket_seconds must be positive, got %v", c.VolumeBucketSeconds)
	}
	return nil
}

// OnsetDetection is the per-signal result. Nil pointers mean the quantity is
// undefined: no onset found, or not enough pre-window data for a baseline.
type OnsetDetection struct {
	Type       OnsetType  `json:"onset_type"`
	OnsetTime  *time.Time `json:"onset_time,omitempty"`
	Baseline   *float64   `json:"baseline_value,omitempty"`
	BaselineSD *float64   `json:"baseline_std,omitempty"`
	Threshold  *float64   `json:"threshold_value,omitempty"`
	OnsetValue *float64   `json:"onset_value,omitempty"`
	KStd       float64    `json:"k_std"`
}

// EventOrdering is the per-window aggregate: the three onset detections, the
// chronological ordering of the signals that produced one, and the derived
// classification label.
type EventOrdering struct {
	WindowID       string           `json:"window_id"`
	Symbol         string           `json:"symbol"`
	EventTimestamp time.Time        `json:"event_timestamp"`
	EventDirection models.Direction `json:"event_direction"`
	Liquidity      OnsetDetection   `json:"liquidity_onset"`
	Volume         OnsetDetection   `json:"volume_onset"`
	Price          OnsetDetection   `json:"price_onset"`
	Ordering       []OnsetType      `json:"ordering"`
	Classification string           `json:"classification"`
}

// baselineStats returns mean and population standard deviation of values.
// One value yields (mean, nil); none yields (nil, nil).
func baselineStats(values []float64) (*float64, *float64) {
	switch len(values) {
	case 0:
		return nil, nil
	case 1:
		v := values[0]
		return &v, nil
	}

	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		d := v - mean
		sq += d * d
	}
	std := math.Sqrt(sq / float64(len(values)))
	return &mean, &std
}

func effectiveStd(baseline float64, std *float64, fallbackRatio float64) float64 {
	if std != nil && *std > 0 {
		return *std
	}
	return baseline * fallbackRatio
}

// DetectSpreadOnset finds the first post-window quote whose bid-ask spread
// reaches baseline + k*sigma. Only widening counts; spread narrowing is not a
// liquidity event.
func DetectSpreadOnset(preTOB, postTOB []models.TopOfBook, kStd float64) OnsetDetection {
	det := OnsetDetection{Type: OnsetLiquidity, KStd: kStd}

	spreads := make([]float64, 0, len(preTOB))
	for _, b := range preTOB {
		spreads = append(spreads, b.Spread())
	}
	baseline, std := baselineStats(spreads)
	if baseline == nil {
		return det
	}
	det.Baseline = baseline
	det.BaselineSD = std

	threshold := *baseline + kStd*effectiveStd(*baseline, std, spreadStdFallback)
	det.Threshold = &threshold

	for _, b := range postTOB {
		if spread := b.Spread(); spread >= threshold {
			ts := b.Timestamp
			det.OnsetTime = &ts
			det.OnsetValue = &spread
			break
		}
	}
	return det
}

type volumeBucket struct {
	start  time.Time
	volume float64
}

// bucketVolumes sums trade sizes into fixed-duration buckets. Bucket starts
// are the trade timestamp floored to a multiple of the bucket duration.
func bucketVolumes(trades []models.Trade, bucketSeconds float64) []volumeBucket {
	if len(trades) == 0 {
		return nil
	}
	bucketDur := time.Duration(bucketSeconds * float64(time.Second))

	totals := make(map[time.Time]float64)
	for _, t := range trades {
		totals[t.Timestamp.Truncate(bucketDur)] += t.Size
	}

	buckets := make([]volumeBucket, 0, len(totals))
	for start, volume := range totals {
		buckets = append(buckets, volumeBucket{start: start, volume: volume})
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].start.Before(buckets[j].start) })
	return buckets
}

// DetectVolumeOnset finds the first post-window volume bucket whose summed
// trade size reaches baseline + k*sigma. The onset time is the bucket start.
func DetectVolumeOnset(preTrades, postTrades []models.Trade, kStd, bucketSeconds float64) OnsetDetection {
	det := OnsetDetection{Type: OnsetVolume, KStd: kStd}

	preBuckets := bucketVolumes(preTrades, bucketSeconds)
	postBuckets := bucketVolumes(postTrades, bucketSeconds)

	volumes := make([]float64, 0, len(preBuckets))
	for _, b := range preBuckets {
		volumes = append(volumes, b.volume)
	}
	baseline, std := baselineStats(volumes)
	if baseline == nil {
		return det
	}
	det.Baseline = baseline
	det.BaselineSD = std

	threshold := *baseline + kStd*effectiveStd(*baseline, std, volumeStdFallback)
	det.Threshold = &threshold

	for _, b := range postBuckets {
		if b.volume >= threshold {
			ts := b.start
			v := b.volume
			det.OnsetTime = &ts
			det.OnsetValue = &v
			break
		}
	}
	return det
}

// DetectPriceOnset finds the first post-window quote whose mid price crosses
// the k-sigma band in the event's direction: below baseline - k*sigma for a
// down event, above baseline + k*sigma for an up event.
func DetectPriceOnset(preTOB, postTOB []models.TopOfBook, kStd float64, direction models.Direction) OnsetDetection {
	det := OnsetDetection{Type: OnsetPrice, KStd: kStd}

	mids := make([]float64, 0, len(preTOB))
	for _, b := range preTOB {
		mids = append(mids, b.MidPrice())
	}
	baseline, std := baselineStats(mids)
	if baseline == nil {
		return det
	}
	det.Baseline = baseline
	det.BaselineSD = std

	eff := effectiveStd(*baseline, std, priceStdFallback)
	var threshold float64
	if direction == models.DirectionDown {
		threshold = *baseline - kStd*eff
	} else {
		threshold = *baseline + kStd*eff
	}
	det.Threshold = &threshold

	for _, b := range postTOB {
		mid := b.MidPrice()
		crossed := (direction == models.DirectionDown && mid <= threshold) ||
			(direction != models.DirectionDown && mid >= threshold)
		if crossed {
			ts := b.Timestamp
			det.OnsetTime = &ts
			det.OnsetValue = &mid
			break
		}
	}
	return det
}

// DetermineOrdering ranks the signals that produced an onset by onset time.
// Ties resolve to the fixed insertion order liquidity, volume, price because
// the sort is stable. No onsets at all classifies as undetermined.
func DetermineOrdering(liquidity, volume, price OnsetDetection) ([]OnsetType, string) {
	type timed struct {
		at  time.Time
		typ OnsetType
	}
	var detected []timed
	for _, det := range []OnsetDetection{liquidity, volume, price} {
		if det.OnsetTime != nil {
			detected = append(detected, timed{at: *det.OnsetTime, typ: det.Type})
		}
	}
	if len(detected) == 0 {
		return nil, ClassUndetermined
	}

	sort.SliceStable(detected, func(i, j int) bool { return detected[i].at.Before(detected[j].at) })

	result := make([]OnsetType, len(detected))
	for i, d := range detected {
		result[i] = d.typ
	}

	var classification string
	switch result[0] {
	case OnsetLiquidity:
		classification = ClassLiquidityFirst
	case OnsetVolume:
		classification = ClassVolumeFirst
	default:
		classification = ClassPriceFirst
	}
	return result, classification
}

// AnalyzeWindow runs the three onset detectors over one event window and
// derives the ordering classification.
func AnalyzeWindow(w windows.EventWindow, cfg Config) (EventOrdering, error) {
	if err := cfg.Validate(); err != nil {
		return EventOrdering{}, fmt.Errorf("ordering config: %w", err)
	}

	liquidity := DetectSpreadOnset(w.PreTOB, w.PostTOB, cfg.KStd)
	volume := DetectVolumeOnset(w.PreTrades, w.PostTrades, cfg.KStd, cfg.bucketSeconds())
	price := DetectPriceOnset(w.PreTOB, w.PostTOB, cfg.KStd, w.Event.Direction)

	orderingSeq, classification := DetermineOrdering(liquidity, volume, price)

	return EventOrdering{
		WindowID:       w.ID(),
		Symbol:         w.Event.Symbol,
		EventTimestamp: w.Event.Timestamp,
		EventDirection: w.Event.Direction,
		Liquidity:      liquidity,
		Volume:         volume,
		Price:          price,
		Ordering:       orderingSeq,
		Classification: classification,
	}, nil
}

// AnalyzeAll analyzes every window. Windows are independent, so the work fans
// out across goroutines; results are collected by index so the output order
// matches the input order exactly.
func AnalyzeAll(ws []windows.EventWindow, cfg Config) ([]EventOrdering, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("ordering config: %w", err)
	}
	if len(ws) == 0 {
		return nil, nil
	}

	results := make([]EventOrdering, len(ws))
	var wg sync.WaitGroup
	for i := range ws {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Config is validated above; per-window analysis cannot fail.
			results[i], _ = AnalyzeWindow(ws[i], cfg)
		}(i)
	}
	wg.Wait()

	counts := make(map[string]int, 4)
	for _, r := range results {
		counts[r.Classification]++
	}
	log.Debug().Int("windows", len(ws)).Interface("classifications", counts).Msg("onset ordering analysis complete")
	return results, nil
}
