package oracle

import (
	"encoding/binary"

	fpmath "PerpRisk/internal/math"
	"PerpRisk/internal/riskerr"
)

const (
	ExternalMagic uint32 = 0xa1b2c3d4

	// StatusTrading is the only status whose prices are accepted.
	StatusTrading uint32 = 1

	// ExternalRecordSize is the encoded length: four u32 header words,
	// price, confidence, timestamp, two publisher bytes, padding, exponent.
	ExternalRecordSize = 48
)

// ExternalFeed is one decoded aggregator price record.
type ExternalFeed struct {
	Magic         uint32
	Version       uint32
	Status        uint32
	Size          uint32
	Price         int64
	Confidence    uint64
	PublishTime   int64
	MinPublishers uint8
	NumPublishers uint8
	Expo          int32
}

// DecodeExternalFeed parses the little-endian wire layout.
func DecodeExternalFeed(b []byte) (ExternalFeed, error) {
	if len(b) < ExternalRecordSize {
		return ExternalFeed{}, riskerr.Wrap(riskerr.BadOracle, "external record too short: %d bytes", len(b))
	}
	le := binary.LittleEndian
	return ExternalFeed{
		Magic:         le.Uint32(b[0:4]),
		Version:       le.Uint32(b[4:8]),
		Status:        le.Uint32(b[8:12]),
		Size:          le.Uint32(b[12:16]),
		Price:         int64(le.Uint64(b[16:24])),
		Confidence:    le.Uint64(b[24:32]),
		PublishTime:   int64(le.Uint64(b[32:40])),
		MinPublishers: b[40],
		NumPublishers: b[41],
		Expo:          int32(le.Uint32(b[44:48])),
	}, nil
}

// Encode is the inverse of DecodeExternalFeed.
func (f ExternalFeed) Encode() []byte {
	b := make([]byte, ExternalRecordSize)
	le := binary.LittleEndian
	le.PutUint32(b[0:4], f.Magic)
	le.PutUint32(b[4:8], f.Version)
	le.PutUint32(b[8:12], f.Status)
	le.PutUint32(b[12:16], f.Size)
	le.PutUint64(b[16:24], uint64(f.Price))
	le.PutUint64(b[24:32], f.Confidence)
	le.PutUint64(b[32:40], uint64(f.PublishTime))
	b[40] = f.MinPublishers
	b[41] = f.NumPublishers
	le.PutUint32(b[44:48], uint32(f.Expo))
	return b
}

// ReadExternal validates a decoded record and returns its price in FP.
func ReadExternal(f ExternalFeed, cfg Config, now int64) (int64, error) {
	if f.Magic != ExternalMagic {
		return 0, riskerr.Wrap(riskerr.BadOracle, "bad magic %#x", f.Magic)
	}
	if f.Status != StatusTrading {
		return 0, riskerr.Wrap(riskerr.BadOracle, "feed status %d not trading", f.Status)
	}
	if int64(f.NumPublishers) < cfg.MinPublishers {
		return 0, riskerr.Wrap(riskerr.OracleConfidenceLow, "%d publishers < %d", f.NumPublishers, cfg.MinPublishers)
	}
	if age := now - f.PublishTime; age > cfg.MaxStalenessSeconds {
		return 0, riskerr.Wrap(riskerr.BadOracle, "external record stale: age %ds", age)
	}

	priceFP, err := rescale(f.Price, f.Expo)
	if err != nil {
		return 0, riskerr.Wrap(riskerr.BadOracle, "price rescale: %v", err)
	}
	if priceFP <= 0 {
		return 0, riskerr.Wrap(riskerr.BadOracle, "non-positive external price %d", priceFP)
	}

	confFP, err := f.ConfidenceFP()
	if err != nil {
		return 0, err
	}
	ratio, err := fpmath.MulDiv(confFP, fpmath.BpsDenominator, priceFP)
	if err != nil {
		return 0, err
	}
	if ratio > cfg.MaxConfidenceDeviationBps {
		return 0, riskerr.Wrap(riskerr.OracleConfidenceLow, "confidence %d bps > %d", ratio, cfg.MaxConfidenceDeviationBps)
	}
	return priceFP, nil
}

// ConfidenceFP returns the record's confidence interval in FP.
func (f ExternalFeed) ConfidenceFP() (int64, error) {
	if f.Confidence > uint64(1<<62) {
		return 0, riskerr.Wrap(riskerr.OracleConfidenceLow, "confidence out of range")
	}
	confFP, err := rescale(int64(f.Confidence), f.Expo)
	if err != nil {
		return 0, riskerr.Wrap(riskerr.OracleConfidenceLow, "confidence rescale: %v", err)
	}
	return confFP, nil
}

// rescale converts value * 10^expo into FP (10^-6) units, truncating.
func rescale(value int64, expo int32) (int64, error) {
	shift := int64(expo) + 6
	if shift < -18 || shift > 18 {
		return 0, riskerr.MathOverflow
	}
	pow := int64(1)
	abs := shift
	if abs < 0 {
		abs = -abs
	}
	for i := int64(0); i < abs; i++ {
		pow *= 10
	}
	if shift >= 0 {
		return fpmath.Mul(value, pow)
	}
	return value / pow, nil
}
