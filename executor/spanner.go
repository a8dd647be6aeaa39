package executor

import (
	"context"
	"fmt"
	"strconv"

	"cloud.google.com/go/spanner"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/protobuf/types/known/structpb"
)

// SpannerConfig names the remote database this proxy re-expresses every
// session against, plus the credentials used to dial it. It is built
// straight from the CLI's project/instance/database/credentials flags.
type SpannerConfig struct {
	Project         string
	Instance        string
	Database        string
	CredentialsFile string
}

func (c SpannerConfig) databasePath() string {
	return fmt.Sprintf("projects/%s/instances/%s/databases/%s", c.Project, c.Instance, c.Database)
}

// SpannerExecutor is the production Executor: it re-expresses translated
// SQL text against a Cloud Spanner database through the Spanner client
// library. Query statements run as single-use reads; everything else runs
// as a read-write transaction's DML update.
//
// DDL (CREATE/ALTER/DROP) is routed through the same DML path as any other
// statement. A production-grade implementation would detect it and call
// the database admin client's UpdateDatabaseDdl instead; that distinction
// is outside the scope of the protocol engine this proxy specifies, so it
// is left as a caller-visible limitation here.
type SpannerExecutor struct {
	client *spanner.Client
}

// NewSpannerExecutor dials the Spanner database named by cfg.
func NewSpannerExecutor(ctx context.Context, cfg SpannerConfig) (*SpannerExecutor, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := spanner.NewClient(ctx, cfg.databasePath(), opts...)
	if err != nil {
		return nil, fmt.Errorf("dial spanner database %s: %w", cfg.databasePath(), err)
	}
	return &SpannerExecutor{client: client}, nil
}

// Execute runs sql as either a single-use query or a read-write DML
// update, depending on its leading keyword.
func (s *SpannerExecutor) Execute(ctx context.Context, sql string) (*Result, error) {
	if isQueryStatement(sql) {
		return s.executeQuery(ctx, sql)
	}
	return s.executeUpdate(ctx, sql)
}

// Close releases the underlying Spanner client.
func (s *SpannerExecutor) Close() error {
	s.client.Close()
	return nil
}

func (s *SpannerExecutor) executeQuery(ctx context.Context, sql string) (*Result, error) {
	iter := s.client.Single().Query(ctx, spanner.Statement{SQL: sql})
	defer iter.Stop()

	var cols []Column
	var rows [][][]byte
	for {
		row, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("spanner query: %w", err)
		}
		if cols == nil {
			cols = columnsOf(row)
		}
		textRow, err := rowToNativeText(row)
		if err != nil {
			return nil, fmt.Errorf("spanner query: decode row: %w", err)
		}
		rows = append(rows, textRow)
	}
	if cols == nil {
		cols = []Column{}
	}
	return &Result{Columns: cols, Rows: rows}, nil
}

func (s *SpannerExecutor) executeUpdate(ctx context.Context, sql string) (*Result, error) {
	var count int64
	_, err := s.client.ReadWriteTransaction(ctx, func(ctx context.Context, txn *spanner.ReadWriteTransaction) error {
		n, err := txn.Update(ctx, spanner.Statement{SQL: sql})
		count = n
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("spanner update: %w", err)
	}
	return &Result{UpdateCount: count}, nil
}

func columnsOf(row *spanner.Row) []Column {
	cols := make([]Column, row.Size())
	for i := 0; i < row.Size(); i++ {
		var gcv spanner.GenericColumnValue
		oid := int32(705) // unknown
		if err := row.Column(i, &gcv); err == nil {
			oid = spannerTypeOID(gcv)
		}
		cols[i] = Column{Name: row.ColumnName(i), OID: oid, Size: -1}
	}
	return cols
}

// rowToNativeText renders every column of row as the downstream service's
// own text form, the contract Executor.Result promises for Rows.
func rowToNativeText(row *spanner.Row) ([][]byte, error) {
	out := make([][]byte, row.Size())
	for i := 0; i < row.Size(); i++ {
		var gcv spanner.GenericColumnValue
		if err := row.Column(i, &gcv); err != nil {
			return nil, err
		}
		out[i] = genericValueToText(gcv.Value)
	}
	return out, nil
}

// genericValueToText renders a decoded Spanner column value as text,
// recursing into ARRAY columns and wrapping them PostgreSQL-array style.
func genericValueToText(v *structpb.Value) []byte {
	if v == nil {
		return nil
	}
	switch kind := v.GetKind().(type) {
	case *structpb.Value_NullValue:
		return nil
	case *structpb.Value_StringValue:
		return []byte(kind.StringValue)
	case *structpb.Value_BoolValue:
		if kind.BoolValue {
			return []byte("t")
		}
		return []byte("f")
	case *structpb.Value_NumberValue:
		return []byte(strconv.FormatFloat(kind.NumberValue, 'g', -1, 64))
	case *structpb.Value_ListValue:
		elems := kind.ListValue.GetValues()
		rendered := make([]string, len(elems))
		for i, e := range elems {
			rendered[i] = string(genericValueToText(e))
		}
		out := "{"
		for i, r := range rendered {
			if i > 0 {
				out += ","
			}
			out += r
		}
		return []byte(out + "}")
	default:
		return []byte(v.String())
	}
}

func spannerTypeOID(gcv spanner.GenericColumnValue) int32 {
	if gcv.Type == nil {
		return 705
	}
	switch gcv.Type.Code.String() {
	case "INT64":
		return 20
	case "FLOAT64":
		return 701
	case "BOOL":
		return 16
	case "TIMESTAMP":
		return 1184
	default:
		return 25 // STRING and everything else renders as text
	}
}
