package datasource

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/tidemark-lab/tidemark/internal/logger"
	"github.com/tidemark-lab/tidemark/internal/types"
	"github.com/tidemark-lab/tidemark/pkg/errors"
	"go.uber.org/zap"
)

// DuckDBFeed streams bars from a CSV or Parquet file through an in-memory
// DuckDB instance. The file is exposed as a view and read in timestamp order;
// ordering violations inside the file therefore cannot reach the engine, but
// the monotonicity check still guards against duplicate timestamps.
type DuckDBFeed struct {
	db        *sql.DB
	rows      *sql.Rows
	sq        squirrel.StatementBuilderType
	logger    *logger.Logger
	symbol    string
	timeframe types.Timeframe
	hasOI     bool
	prev      optional.Option[types.Bar]
}

// NewDuckDBFeed opens the given data file and prepares it for streaming.
// The symbol is taken from the file name stem unless overridden via symbol.
func NewDuckDBFeed(path string, symbol string, timeframe types.Timeframe, log *logger.Logger) (*DuckDBFeed, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeDataReadFailed, "failed to open duckdb", err)
	}

	var reader string

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		reader = fmt.Sprintf(`read_csv_auto('%s')`, path)
	case ".parquet":
		reader = fmt.Sprintf(`read_parquet('%s')`, path)
	default:
		db.Close()

		return nil, errors.Newf(errors.ErrCodeDataReadFailed, "unsupported data file extension: %s", path)
	}

	if _, err := db.Exec(fmt.Sprintf(`CREATE VIEW bars AS SELECT * FROM %s`, reader)); err != nil {
		db.Close()

		return nil, errors.Wrapf(errors.ErrCodeDataReadFailed, err, "failed to create view over %s", path)
	}

	if symbol == "" {
		symbol = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}

	feed := &DuckDBFeed{
		db:        db,
		rows:      nil,
		sq:        squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		logger:    log,
		symbol:    symbol,
		timeframe: timeframe,
		hasOI:     false,
		prev:      optional.None[types.Bar](),
	}

	if err := feed.detectColumns(); err != nil {
		db.Close()

		return nil, err
	}

	log.Debug("duckdb feed ready",
		zap.String("path", path),
		zap.String("symbol", symbol),
	)

	return feed, nil
}

func (d *DuckDBFeed) detectColumns() error {
	rows, err := d.db.Query(`SELECT * FROM bars LIMIT 0`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeDataReadFailed, "failed to inspect data columns", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return errors.Wrap(errors.ErrCodeDataReadFailed, "failed to read data columns", err)
	}

	for _, required := range []string{"time", "open", "high", "low", "close", "volume"} {
		if !slices.Contains(cols, required) {
			return errors.Newf(errors.ErrCodeDataMalformed, "data file missing required column %q", required)
		}
	}

	d.hasOI = slices.Contains(cols, "open_interest")

	return nil
}

// Symbol implements Feed.
func (d *DuckDBFeed) Symbol() string {
	return d.symbol
}

// Timeframe implements Feed.
func (d *DuckDBFeed) Timeframe() types.Timeframe {
	return d.timeframe
}

// Next implements Feed.
func (d *DuckDBFeed) Next() (optional.Option[types.Bar], error) {
	if d.rows == nil {
		columns := []string{"time", "open", "high", "low", "close", "volume"}
		if d.hasOI {
			columns = append(columns, "open_interest")
		}

		query := d.sq.Select(columns...).From("bars").OrderBy("time ASC").RunWith(d.db)

		rows, err := query.Query()
		if err != nil {
			return optional.None[types.Bar](), errors.Wrap(errors.ErrCodeDataReadFailed, "failed to query bars", err)
		}

		d.rows = rows
	}

	if !d.rows.Next() {
		if err := d.rows.Err(); err != nil {
			return optional.None[types.Bar](), errors.Wrap(errors.ErrCodeDataReadFailed, "error iterating bars", err)
		}

		return optional.None[types.Bar](), nil
	}

	bar := types.Bar{Symbol: d.symbol}

	var ts time.Time

	if d.hasOI {
		if err := d.rows.Scan(&ts, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume, &bar.OpenInterest); err != nil {
			return optional.None[types.Bar](), errors.Wrap(errors.ErrCodeDataMalformed, "failed to scan bar", err)
		}
	} else {
		if err := d.rows.Scan(&ts, &bar.Open, &bar.High, &bar.Low, &bar.Close, &bar.Volume); err != nil {
			return optional.None[types.Bar](), errors.Wrap(errors.ErrCodeDataMalformed, "failed to scan bar", err)
		}
	}

	bar.Time = ts.UTC()

	if err := checkMonotonic(d.prev, bar); err != nil {
		return optional.None[types.Bar](), err
	}

	d.prev = optional.Some(bar)

	return optional.Some(bar), nil
}

// Count implements Feed.
func (d *DuckDBFeed) Count() (int, error) {
	var count int
	if err := d.db.QueryRow(`SELECT COUNT(*) FROM bars`).Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeDataReadFailed, "failed to count bars", err)
	}

	return count, nil
}

// Close implements Feed.
func (d *DuckDBFeed) Close() error {
	if d.rows != nil {
		d.rows.Close()
	}

	return d.db.Close()
}
