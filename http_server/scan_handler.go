package http_server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danthegoodman1/icelake/lake"
	"github.com/danthegoodman1/icelake/metastore"
	"github.com/danthegoodman1/icelake/utils"
)

type (
	ScanReqBody struct {
		// Columns to return; empty returns every table column
		Columns []string
		// Partition descriptors to prune to; omit to scan the whole table
		Partitions []string
	}

	ScanResBody struct {
		Rows    []map[string]any
		NumRows int64
		TimeMS  int64
	}
)

func (s *HTTPServer) ScanHandler(c *CustomContext) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*60)
	defer cancel()

	start := time.Now()

	var reqBody ScanReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}
	defer c.Request().Body.Close()

	namespace := c.Param("namespace")
	tableName := c.Param("table")

	var partitions []string
	if len(reqBody.Partitions) > 0 {
		partitions = reqBody.Partitions
	}

	stream, err := s.Lake.Scan(ctx, namespace, tableName, lake.ScanOptions{
		Columns:    reqBody.Columns,
		Partitions: partitions,
		BatchSize:  int(utils.GetEnvOrDefaultInt("SCAN_BATCH_SIZE", 1000)),
	})
	if err != nil {
		if errors.Is(err, metastore.ErrTableNotFound) {
			return c.String(http.StatusNotFound, "table not found")
		}
		return c.InternalError(err, "error building scan")
	}

	rows := make([]map[string]any, 0)
	for {
		batch, err := stream.Next(ctx)
		if err != nil {
			return c.InternalError(err, "error reading scan batch")
		}
		if batch == nil {
			break
		}
		rows = append(rows, batch.Rows...)
	}

	return c.JSON(http.StatusOK, ScanResBody{
		Rows:    rows,
		NumRows: int64(len(rows)),
		TimeMS:  time.Since(start).Milliseconds(),
	})
}
