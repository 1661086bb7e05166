package archive

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"

	"github.com/sqlmentor/sqlmentor/internal/memory"
)

type ParquetEncodeResult struct {
	Data        []byte
	RecordCount int64
}

type parquetTurn struct {
	TurnID          string `parquet:"turn_id"`
	ConnectionID    string `parquet:"connection_id"`
	Message         string `parquet:"message"`
	FromUser        bool   `parquet:"from_user"`
	SQLText         string `parquet:"sql_text"`
	ExecError       string `parquet:"exec_error"`
	ResultJSON      string `parquet:"result_json"`
	CreatedAtUnixMs int64  `parquet:"created_at_unix_ms"`
}

// EncodeTurnsToParquet serializes conversation turns for cold storage.
// Result payloads are carried as their JSON encoding so archives stay
// readable without this package's types.
func EncodeTurnsToParquet(turns []memory.ChatTurn) (ParquetEncodeResult, error) {
	if len(turns) == 0 {
		return ParquetEncodeResult{}, fmt.Errorf("turns are required")
	}

	rows := make([]parquetTurn, 0, len(turns))
	for _, turn := range turns {
		resultJSON, err := memory.EncodeResultSet(turn.Result)
		if err != nil {
			return ParquetEncodeResult{}, fmt.Errorf("encode result for turn %q: %w", turn.ID, err)
		}
		rows = append(rows, parquetTurn{
			TurnID:          turn.ID,
			ConnectionID:    turn.ConnectionID,
			Message:         turn.Message,
			FromUser:        turn.FromUser,
			SQLText:         turn.SQL,
			ExecError:       turn.ExecError,
			ResultJSON:      resultJSON,
			CreatedAtUnixMs: turn.CreatedAt.UTC().UnixMilli(),
		})
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[parquetTurn](buf)
	if _, err := writer.Write(rows); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return ParquetEncodeResult{}, fmt.Errorf("close parquet writer: %w", err)
	}

	return ParquetEncodeResult{
		Data:        buf.Bytes(),
		RecordCount: int64(len(rows)),
	}, nil
}
