// Package airtime computes LoRa time-on-air using the Semtech symbol-time
// formula.
package airtime

import "math"

// Params bundles the radio parameters needed to compute time-on-air.
type Params struct {
	SpreadingFactor   int   // 7..12; 0 means unknown
	Bandwidth         int64 // Hz; 0 means unknown
	PayloadSize       int   // bytes
	CodingRate        string // "4/5".."4/8"; defaults to "4/5"
	LowDataRateOptOn  *bool // nil selects the auto rule
	PreambleSymbols   int   // defaults to 8 when 0
	HasExplicitHeader *bool // nil defaults to true (explicit header)
}

// ComputeMicros returns time-on-air in microseconds. It returns 0 when SF or
// BW is unknown
func ComputeMicros(p Params) int64 {
	if p.SpreadingFactor == 0 || p.Bandwidth == 0 {
		return 0
	}

	sf := float64(p.SpreadingFactor)
	bw := float64(p.Bandwidth)

	preamble := p.PreambleSymbols
	if preamble == 0 {
		preamble = 8
	}

	explicitHeader := true
	if p.HasExplicitHeader != nil {
		explicitHeader = *p.HasExplicitHeader
	}

	de := lowDataRateOptimize(p)
	cr := codingRateN(p.CodingRate)

	tSym := math.Pow(2, sf) / bw * 1e6

	h := 0.0
	if explicitHeader {
		h = 0
	} else {
		h = 1
	}
	crc := 1.0 // uplinks/downlinks in this pipeline always carry CRC per LoRaWAN

	deVal := 0.0
	if de {
		deVal = 1
	}

	numerator := 8*float64(p.PayloadSize) - 4*sf + 28 + 16*crc - 20*h
	denominator := 4 * (sf - 2*deVal)

	payloadSymbNb := 0.0
	if denominator > 0 {
		raw := math.Ceil(numerator/denominator) * float64(cr+4)
		payloadSymbNb = 8 + math.Max(raw, 0)
	} else {
		payloadSymbNb = 8
	}

	tOnAir := tSym * (float64(preamble) + 4.25 + payloadSymbNb)

	return int64(math.Round(tOnAir))
}

// lowDataRateOptimize resolves the low-data-rate-optimize flag, auto-enabling
// it for SF>=11 at 125kHz and SF=12 at 250kHz when not explicitly set.
func lowDataRateOptimize(p Params) bool {
	if p.LowDataRateOptOn != nil {
		return *p.LowDataRateOptOn
	}
	if p.Bandwidth == 125000 && p.SpreadingFactor >= 11 {
		return true
	}
	if p.Bandwidth == 250000 && p.SpreadingFactor == 12 {
		return true
	}
	return false
}

// codingRateN maps a coding-rate string to its numeric CR value (1..4).
func codingRateN(cr string) int {
	switch cr {
	case "4/5":
		return 1
	case "4/6":
		return 2
	case "4/7":
		return 3
	case "4/8":
		return 4
	default:
		return 1
	}
}
