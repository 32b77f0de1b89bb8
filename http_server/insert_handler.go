package http_server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danthegoodman1/gojsonutils"
	"github.com/danthegoodman1/icelake/metastore"
	"github.com/danthegoodman1/icelake/sink"
	"github.com/danthegoodman1/icelake/utils"
)

type (
	InsertReqBody struct {
		// Line-delimited JSON (NDJSON)
		RowsString *string
		// Array of JSON
		Rows []*map[string]any
	}

	InsertStats struct {
		NumRows int64
		TimeMS  int64
	}
)

var (
	ErrNotFlatMap = errors.New("not a flat map")
)

func (s *HTTPServer) InsertHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*60)
	defer cancel()

	start := time.Now()

	var reqBody InsertReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	defer c.Request().Body.Close()

	namespace := c.Param("namespace")
	tableName := c.Param("table")

	info, err := s.Lake.TableInfo(ctx, namespace, tableName)
	if err != nil {
		if errors.Is(err, metastore.ErrTableNotFound) {
			return c.String(http.StatusNotFound, "table not found")
		}
		return c.InternalError(err, "error getting table info")
	}

	// Extract rows (flattened) from format (JSON, NDJSON)
	var rows []map[string]any
	if reqBody.RowsString != nil {
		ndJSONScanner := bufio.NewScanner(strings.NewReader(*reqBody.RowsString))
		for ndJSONScanner.Scan() {
			var raw any
			err := json.Unmarshal([]byte(ndJSONScanner.Text()), &raw)
			if err != nil {
				return c.String(http.StatusBadRequest, "line was not JSON")
			}
			jsonMap, ok := raw.(map[string]any)
			if !ok {
				return c.String(http.StatusBadRequest, "line was not a JSON object")
			}
			flatMap, err := flattenRow(jsonMap)
			if err != nil {
				return c.InternalError(err, "error flattening JSON map")
			}
			rows = append(rows, flatMap)
		}
	} else if reqBody.Rows != nil {
		for _, row := range reqBody.Rows {
			flatMap, err := flattenRow(*row)
			if err != nil {
				return c.InternalError(err, "error flattening JSON map")
			}
			rows = append(rows, flatMap)
		}
	} else {
		return c.String(http.StatusBadRequest, "must provide RowsString or Rows")
	}

	if len(rows) == 0 {
		return c.String(http.StatusBadRequest, "no rows provided")
	}

	// Incoming rows carry the partition columns inline, the sink strips them
	// back out of the file bodies
	streamSchema := info.Schema.WithPartitionColumns(info.RangePartitions)
	source := sink.NewRowsSource(streamSchema, int(utils.GetEnvOrDefaultInt("INSERT_BATCH_SIZE", 1000)), rows)

	written, err := s.Lake.Write(ctx, namespace, tableName, source, sink.WriteModeAppend)
	if err != nil {
		return c.InternalError(err, "error writing rows")
	}

	return c.JSON(http.StatusOK, InsertStats{
		NumRows: int64(written),
		TimeMS:  time.Since(start).Milliseconds(),
	})
}

func flattenRow(row map[string]any) (map[string]any, error) {
	flat, err := gojsonutils.Flatten(row, nil)
	if err != nil {
		return nil, fmt.Errorf("error in gojsonutils.Flatten: %w", err)
	}
	flatMap, ok := flat.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("got a non flat map %+v: %w", flat, ErrNotFlatMap)
	}
	return flatMap, nil
}
