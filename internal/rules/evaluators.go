package rules

import (
	"fmt"

	"github.com/enterprise/risk-engine/internal/models"
	"github.com/enterprise/risk-engine/internal/profile"
)

// Evaluator is the shape every statistical detector implements; the
// Isolation Forest rule is handled separately by evaluateIsolationForest in
// dispatch.go. It must never panic — dispatch recovers
// around every call and treats a panic the same as a returned error
// (spec.md §4.3: an evaluator error must not prevent other rules from running).
type Evaluator func(d EvalDeps) (models.RuleResult, error)

// excessRatioScore implements the repeated "excess / (base * v/100) * 100"
// shape shared by AMOUNT_ANOMALY, AMOUNT_PER_TYPE, HOURLY_AMOUNT, TPS_SPIKE,
// DAILY_CUMULATIVE: all compare an observed value to base*(1+v/100).
func excessRatioScore(observed, base, variancePct float64) (deviationPct float64, triggered bool) {
	if base <= 0 || variancePct <= 0 {
		return 0, false
	}
	threshold := base * (1 + variancePct/100)
	if observed <= threshold {
		return 0, false
	}
	band := base * variancePct / 100
	if band <= 0 {
		return 0, false
	}
	return (observed - threshold) / band * 100, true
}

// EvalAmountAnomaly implements spec.md §4.4 AMOUNT_ANOMALY.
func EvalAmountAnomaly(d EvalDeps) (models.RuleResult, error) {
	if d.Profile.TotalTxnCount < 2 {
		return notTriggered(d.Rule, "insufficient profile history"), nil
	}
	v := effectiveVariancePct(d.Rule, d.Defaults.VariancePct)
	dev, triggered := excessRatioScore(d.Txn.Amount, d.Profile.Amount.Value, v)
	res := notTriggered(d.Rule, "")
	if !triggered {
		res.Reason = fmt.Sprintf("amount %.2f within %.0f%% band of ewma %.2f", d.Txn.Amount, v, d.Profile.Amount.Value)
		return res, nil
	}
	res.Triggered = true
	res.DeviationPct = dev
	res.PartialScore = capScore(dev)
	res.Reason = fmt.Sprintf("amount %.2f exceeds ewma %.2f by more than %.0f%% (deviation %.1f%%)", d.Txn.Amount, d.Profile.Amount.Value, v, dev)
	return res, nil
}

// EvalAmountPerType implements spec.md §4.4 AMOUNT_PER_TYPE.
func EvalAmountPerType(d EvalDeps) (models.RuleResult, error) {
	minSamples := paramInt(d.Rule, "minTypeSamples", d.Defaults.MinTypeSamples)
	if int(d.Profile.AmountCountByType[d.Txn.TxnType]) < minSamples {
		return notTriggered(d.Rule, "insufficient per-type history"), nil
	}
	stat, ok := d.Profile.AmountByType[d.Txn.TxnType]
	if !ok {
		return notTriggered(d.Rule, "no per-type baseline yet"), nil
	}
	v := effectiveVariancePct(d.Rule, d.Defaults.VariancePct)
	dev, triggered := excessRatioScore(d.Txn.Amount, stat.Value, v)
	res := notTriggered(d.Rule, "")
	if !triggered {
		res.Reason = fmt.Sprintf("amount %.2f within %.0f%% band of type-%s ewma %.2f", d.Txn.Amount, v, d.Txn.TxnType, stat.Value)
		return res, nil
	}
	res.Triggered = true
	res.DeviationPct = dev
	res.PartialScore = capScore(dev)
	res.Reason = fmt.Sprintf("amount %.2f exceeds type-%s ewma %.2f by more than %.0f%% (deviation %.1f%%)", d.Txn.Amount, d.Txn.TxnType, stat.Value, v, dev)
	return res, nil
}

// EvalHourlyAmount implements spec.md §4.4 HOURLY_AMOUNT.
func EvalHourlyAmount(d EvalDeps) (models.RuleResult, error) {
	if d.Profile.HourlyAmount.Count == 0 {
		return notTriggered(d.Rule, "no completed-hour baseline yet"), nil
	}
	v := effectiveVariancePct(d.Rule, d.Defaults.VariancePct)
	dev, triggered := excessRatioScore(d.Ctx.CurrentHourlyAmount, d.Profile.HourlyAmount.Value, v)
	res := notTriggered(d.Rule, "")
	if !triggered {
		res.Reason = fmt.Sprintf("hourly amount %.2f within %.0f%% band of ewma %.2f", d.Ctx.CurrentHourlyAmount, v, d.Profile.HourlyAmount.Value)
		return res, nil
	}
	res.Triggered = true
	res.DeviationPct = dev
	res.PartialScore = capScore(dev)
	res.Reason = fmt.Sprintf("hourly amount %.2f exceeds ewma %.2f by more than %.0f%% (deviation %.1f%%)", d.Ctx.CurrentHourlyAmount, d.Profile.HourlyAmount.Value, v, dev)
	return res, nil
}

// EvalTPSSpike implements spec.md §4.4 TPS_SPIKE.
func EvalTPSSpike(d EvalDeps) (models.RuleResult, error) {
	if d.Profile.HourlyTps.Count == 0 {
		return notTriggered(d.Rule, "no completed-hour baseline yet"), nil
	}
	v := effectiveVariancePct(d.Rule, d.Defaults.VariancePct)
	dev, triggered := excessRatioScore(float64(d.Ctx.CurrentHourlyTxnCount), d.Profile.HourlyTps.Value, v)
	res := notTriggered(d.Rule, "")
	if !triggered {
		res.Reason = fmt.Sprintf("hourly txn count %d within %.0f%% band of ewma %.2f", d.Ctx.CurrentHourlyTxnCount, v, d.Profile.HourlyTps.Value)
		return res, nil
	}
	res.Triggered = true
	res.DeviationPct = dev
	res.PartialScore = capScore(dev)
	res.Reason = fmt.Sprintf("hourly txn count %d exceeds ewma %.2f by more than %.0f%% (deviation %.1f%%)", d.Ctx.CurrentHourlyTxnCount, d.Profile.HourlyTps.Value, v, dev)
	return res, nil
}

// EvalTransactionType implements spec.md §4.4 TRANSACTION_TYPE.
func EvalTransactionType(d EvalDeps) (models.RuleResult, error) {
	minRepeat := paramInt(d.Rule, "minRepeatCount", d.Defaults.MinRepeatCount)
	if int(d.Profile.TotalTxnCount) < minRepeat {
		return notTriggered(d.Rule, "insufficient history for type-frequency check"), nil
	}
	minFreqPct := param(d.Rule, "minTypeFrequencyPct", d.Defaults.MinTypeFrequencyPct)
	minFreq := minFreqPct / 100
	freq := float64(d.Profile.TxnTypeCounts[d.Txn.TxnType]) / float64(d.Profile.TotalTxnCount)
	res := notTriggered(d.Rule, "")
	if freq >= minFreq || minFreq <= 0 {
		res.Reason = fmt.Sprintf("type %s frequency %.2f%% at or above floor %.2f%%", d.Txn.TxnType, freq*100, minFreqPct)
		return res, nil
	}
	res.Triggered = true
	res.DeviationPct = capScore(100 * (1 - freq/minFreq))
	res.PartialScore = res.DeviationPct
	res.Reason = fmt.Sprintf("type %s frequency %.2f%% below floor %.2f%%", d.Txn.TxnType, freq*100, minFreqPct)
	return res, nil
}

// EvalBeneficiaryConcentration implements spec.md §4.4 BENEFICIARY_CONCENTRATION.
func EvalBeneficiaryConcentration(d EvalDeps) (models.RuleResult, error) {
	minDistinct := paramInt(d.Rule, "minDistinctBeneficiaries", d.Defaults.MinDistinctBeneficiaries)
	if int(d.Profile.DistinctBeneficiaryCount) < minDistinct || d.Ctx.CurrentBeneficiaryKey == "" {
		return notTriggered(d.Rule, "insufficient distinct beneficiaries"), nil
	}
	beneTxns := d.Profile.BeneficiaryTxnCount[d.Ctx.CurrentBeneficiaryKey]
	concentration := float64(beneTxns) / float64(d.Profile.TotalTxnCount)
	baseline := 1.0 / float64(d.Profile.DistinctBeneficiaryCount)
	v := effectiveVariancePct(d.Rule, d.Defaults.VariancePct)
	absMin := param(d.Rule, "absMinConcentrationPct", d.Defaults.AbsMinConcentrationPct) / 100

	threshold := baseline * (1 + v/100)
	if absMin > threshold {
		threshold = absMin
	}

	res := notTriggered(d.Rule, "")
	if concentration < threshold {
		res.Reason = fmt.Sprintf("beneficiary concentration %.2f%% below threshold %.2f%%", concentration*100, threshold*100)
		return res, nil
	}
	res.Triggered = true
	res.DeviationPct = capScore(100 * concentration)
	res.PartialScore = res.DeviationPct
	res.Reason = fmt.Sprintf("beneficiary %s concentration %.2f%% at/above threshold %.2f%% (baseline %.2f%%)", d.Ctx.CurrentBeneficiaryKey, concentration*100, threshold*100, baseline*100)
	return res, nil
}

// EvalDailyCumulative implements spec.md §4.4 DAILY_CUMULATIVE.
func EvalDailyCumulative(d EvalDeps) (models.RuleResult, error) {
	minDays := paramInt(d.Rule, "dailyCumulativeMinDays", d.Defaults.DailyCumulativeMinDays)
	if int(d.Profile.CompletedDaysCount()) < minDays {
		return notTriggered(d.Rule, "insufficient completed-day history"), nil
	}
	v := effectiveVariancePct(d.Rule, d.Defaults.VariancePct)
	dev, triggered := excessRatioScore(d.Ctx.CurrentDailyAmount, d.Profile.DailyAmount.Value, v)
	res := notTriggered(d.Rule, "")
	if !triggered {
		res.Reason = fmt.Sprintf("daily amount %.2f within %.0f%% band of ewma %.2f", d.Ctx.CurrentDailyAmount, v, d.Profile.DailyAmount.Value)
		return res, nil
	}
	res.Triggered = true
	res.DeviationPct = dev
	res.PartialScore = capScore(dev)
	res.Reason = fmt.Sprintf("daily cumulative amount %.2f exceeds ewma %.2f by more than %.0f%% (deviation %.1f%%)", d.Ctx.CurrentDailyAmount, d.Profile.DailyAmount.Value, v, dev)
	return res, nil
}

// EvalNewBeneVelocity implements spec.md §4.4 NEW_BENE_VELOCITY.
func EvalNewBeneVelocity(d EvalDeps) (models.RuleResult, error) {
	minDays := paramInt(d.Rule, "newBeneMinProfileDays", d.Defaults.NewBeneMinProfileDays)
	if int(d.Profile.CompletedDaysForBeneCount()) < minDays {
		return notTriggered(d.Rule, "insufficient completed-day history for beneficiary velocity"), nil
	}
	v := effectiveVariancePct(d.Rule, d.Defaults.VariancePct)
	maxPerDay := param(d.Rule, "newBeneMaxPerDay", float64(d.Defaults.NewBeneMaxPerDay))
	ewmaThreshold := d.Profile.DailyNewBeneficiaries.Value * (1 + v/100)
	threshold := maxPerDay
	if ewmaThreshold > threshold {
		threshold = ewmaThreshold
	}

	newToday := float64(d.Ctx.NewBeneficiariesToday)
	res := notTriggered(d.Rule, "")
	if newToday <= threshold {
		res.Reason = fmt.Sprintf("new beneficiaries today %d at/below threshold %.1f", d.Ctx.NewBeneficiariesToday, threshold)
		return res, nil
	}
	res.Triggered = true
	if threshold <= 0 {
		threshold = 1
	}
	res.DeviationPct = capScore((newToday - threshold) / threshold * 100)
	res.PartialScore = res.DeviationPct
	res.Reason = fmt.Sprintf("new beneficiaries today %d exceeds threshold %.1f", d.Ctx.NewBeneficiariesToday, threshold)
	return res, nil
}

// EvalDormancyBreak implements spec.md §4.4 DORMANCY_BREAK.
func EvalDormancyBreak(d EvalDeps) (models.RuleResult, error) {
	dormancyDays := paramInt(d.Rule, "dormancyDays", d.Defaults.DormancyDays)
	gap := d.Txn.Timestamp.Sub(d.Profile.LastUpdated).Seconds()
	if gap < float64(dormancyDays)*86400 {
		return notTriggered(d.Rule, "client not dormant"), nil
	}
	if d.Profile.TotalTxnCount < 2 {
		return notTriggered(d.Rule, "insufficient profile history"), nil
	}
	v := effectiveVariancePct(d.Rule, d.Defaults.VariancePct)
	_, amountAnomalous := excessRatioScore(d.Txn.Amount, d.Profile.Amount.Value, v)
	res := notTriggered(d.Rule, "")
	if !amountAnomalous {
		res.Reason = fmt.Sprintf("dormant for %.0fs but amount unremarkable", gap)
		return res, nil
	}
	res.Triggered = true
	res.DeviationPct = 100
	res.PartialScore = 100
	res.Reason = fmt.Sprintf("dormant for %.0fs (>= %d days) with anomalous amount on return", gap, dormancyDays)
	return res, nil
}

// EvalCrossChannelBene implements spec.md §4.4 CROSS_CHANNEL_BENE.
func EvalCrossChannelBene(d EvalDeps) (models.RuleResult, error) {
	if d.Ctx.CurrentBeneficiaryKey == "" {
		return notTriggered(d.Rule, "no beneficiary on this transaction"), nil
	}
	channels := d.Profile.BeneficiaryChannels[d.Ctx.CurrentBeneficiaryKey]
	channelCount := len(channels)
	if channelCount < 2 {
		return notTriggered(d.Rule, "beneficiary seen on a single channel so far"), nil
	}
	v := effectiveVariancePct(d.Rule, d.Defaults.VariancePct)
	const baseline = 1.0
	dev := (float64(channelCount) - baseline) / baseline * 100
	res := notTriggered(d.Rule, "")
	if dev < v {
		res.Reason = fmt.Sprintf("beneficiary seen on %d channels, below %.0f%% deviation floor", channelCount, v)
		return res, nil
	}
	res.Triggered = true
	res.DeviationPct = capScore(dev)
	res.PartialScore = res.DeviationPct
	res.Reason = fmt.Sprintf("beneficiary %s used across %d transaction types, exceeding baseline by %.1f%%", d.Ctx.CurrentBeneficiaryKey, channelCount, dev)
	return res, nil
}

// EvalSeasonalDeviation implements spec.md §4.4 SEASONAL_DEVIATION.
func EvalSeasonalDeviation(d EvalDeps) (models.RuleResult, error) {
	minSamples := paramInt(d.Rule, "seasonalMinSamples", d.Defaults.SeasonalMinSamples)
	v := effectiveVariancePct(d.Rule, d.Defaults.VariancePct)
	sigmaThreshold := v / 100

	bestZ := 0.0
	bestLabel := ""
	checkSlot := func(stat *profile.Stat, label string) {
		if stat == nil || int(stat.Count) < minSamples {
			return
		}
		sd := stat.StdDev()
		if sd == 0 {
			return
		}
		z := (d.Txn.Amount - stat.Value) / sd
		if z > bestZ {
			bestZ = z
			bestLabel = label
		}
	}
	checkSlot(d.Profile.SeasonalHourly[profile.HourOfDay(d.Txn.Timestamp)], "hour-of-day")
	checkSlot(d.Profile.SeasonalDaily[profile.DayOfWeek(d.Txn.Timestamp)], "day-of-week")

	res := notTriggered(d.Rule, "")
	if bestLabel == "" || bestZ <= sigmaThreshold {
		res.Reason = "amount within seasonal expectation"
		return res, nil
	}
	res.Triggered = true
	res.DeviationPct = capScore(bestZ * 100)
	res.PartialScore = res.DeviationPct
	res.Reason = fmt.Sprintf("amount %.2f is %.2f std-devs above the %s baseline (threshold %.2f)", d.Txn.Amount, bestZ, bestLabel, sigmaThreshold)
	return res, nil
}

// EvalCVStability implements spec.md §4.4 CV_STABILITY.
func EvalCVStability(d EvalDeps) (models.RuleResult, error) {
	if d.Ctx.CurrentBeneficiaryKey == "" {
		return notTriggered(d.Rule, "no beneficiary on this transaction"), nil
	}
	minTxns := paramInt(d.Rule, "minBeneficiaryTxns", d.Defaults.MinBeneficiaryTxns)
	if int(d.Profile.BeneficiaryTxnCount[d.Ctx.CurrentBeneficiaryKey]) < minTxns {
		return notTriggered(d.Rule, "insufficient beneficiary history"), nil
	}
	stat, ok := d.Profile.AmountByBeneficiary[d.Ctx.CurrentBeneficiaryKey]
	if !ok {
		return notTriggered(d.Rule, "no beneficiary baseline yet"), nil
	}
	cvMax := param(d.Rule, "maxCvPct", d.Defaults.MaxCvPct)
	cv := stat.CV() * 100

	res := notTriggered(d.Rule, "")
	if cv <= cvMax {
		res.Reason = fmt.Sprintf("beneficiary CV %.2f%% within limit %.2f%%", cv, cvMax)
		return res, nil
	}
	res.Triggered = true
	res.DeviationPct = capScore(100 * (cv - cvMax) / cvMax)
	res.PartialScore = res.DeviationPct
	res.Reason = fmt.Sprintf("beneficiary %s amount CV %.2f%% exceeds limit %.2f%%", d.Ctx.CurrentBeneficiaryKey, cv, cvMax)
	return res, nil
}
