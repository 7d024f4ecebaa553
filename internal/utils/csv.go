package utils

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"tradecore/internal/domain"

	"github.com/shopspring/decimal"
)

var csvHeader = []string{"open_time", "close_time", "symbol", "interval", "open", "high", "low", "close", "volume"}

// WriteKlinesToCSV writes klines to a CSV file with a header row. Prices are
// written as decimal strings so a read-back reproduces them exactly.
func WriteKlinesToCSV(klines []domain.Kline, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write(csvHeader)
	for _, k := range klines {
		writer.Write([]string{
			k.OpenTime.Format(time.RFC3339),
			k.CloseTime.Format(time.RFC3339),
			k.Symbol,
			k.Interval,
			k.Open.String(),
			k.High.String(),
			k.Low.String(),
			k.Close.String(),
			k.Volume.String(),
		})
	}
	return writer.Error()
}

// ReadKlinesFromCSV loads klines from a CSV file produced by
// WriteKlinesToCSV.
func ReadKlinesFromCSV(filename string) ([]domain.Kline, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = len(csvHeader)

	// Header row
	if _, err := reader.Read(); err != nil {
		return nil, fmt.Errorf("reading header of %s: %w", filename, err)
	}

	var klines []domain.Kline
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading %s line %d: %w", filename, line, err)
		}
		k, err := parseKlineRecord(record)
		if err != nil {
			return nil, fmt.Errorf("parsing %s line %d: %w", filename, line, err)
		}
		klines = append(klines, k)
	}
	return klines, nil
}

func parseKlineRecord(record []string) (domain.Kline, error) {
	openTime, err := time.Parse(time.RFC3339, record[0])
	if err != nil {
		return domain.Kline{}, fmt.Errorf("open_time %q: %w", record[0], err)
	}
	closeTime, err := time.Parse(time.RFC3339, record[1])
	if err != nil {
		return domain.Kline{}, fmt.Errorf("close_time %q: %w", record[1], err)
	}
	prices := make([]decimal.Decimal, 5)
	for i, name := range []string{"open", "high", "low", "close", "volume"} {
		prices[i], err = decimal.NewFromString(record[4+i])
		if err != nil {
			return domain.Kline{}, fmt.Errorf("%s %q: %w", name, record[4+i], err)
		}
	}
	return domain.Kline{
		OpenTime:  openTime,
		CloseTime: closeTime,
		Symbol:    record[2],
		Interval:  record[3],
		Open:      prices[0],
		High:      prices[1],
		Low:       prices[2],
		Close:     prices[3],
		Volume:    prices[4],
		IsFinal:   true,
	}, nil
}
