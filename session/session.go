// Package session implements the per-connection PostgreSQL wire-protocol
// state machine: it accepts a byte-stream already wrapped by pgwire,
// drives it through startup, simple query, and extended query flow, and
// turns downstream executor results into correctly framed response
// messages.
package session

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"pgwireproxy/executor"
	"pgwireproxy/pgwire"
	"pgwireproxy/rewrite"
)

// State names the session's position in the connection lifecycle.
type State int

const (
	AwaitingStartup State = iota
	AwaitingPassword
	Ready
	InExtendedBatch
	InFailedExtendedBatch
	Terminated
)

func (st State) String() string {
	switch st {
	case AwaitingStartup:
		return "awaiting_startup"
	case AwaitingPassword:
		return "awaiting_password"
	case Ready:
		return "ready"
	case InExtendedBatch:
		return "in_extended_batch"
	case InFailedExtendedBatch:
		return "in_failed_extended_batch"
	case Terminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Config carries the settings every Session on a listener is built with.
type Config struct {
	// AuthRequired, when set, makes startup demand a password exchange.
	// The password's content is never checked — see §9 of the spec this
	// implements: the flag exists purely for client compatibility.
	AuthRequired bool
	// ServerVersion is reported in the post-authentication ParameterStatus.
	ServerVersion string
	// DefaultFormat is the textual rendering style ("PostgreSqlText" vs
	// "NativeText") used whenever a column's format isn't forced to binary.
	DefaultFormat pgwire.DataFormat
	// ForceBinary overrides an empty, extended-mode result-format vector
	// to binary instead of DefaultFormat. Has no effect in simple query
	// mode, which never carries a result-format vector at all.
	ForceBinary bool
}

// Session drives one accepted connection's protocol state machine to
// completion. Message processing is strictly sequential: Run never reads
// the next message until the previous one (including any downstream
// executor call) has been fully handled.
type Session struct {
	id       int64
	conn     net.Conn
	reader   *pgwire.Reader
	writer   *pgwire.Writer
	exec     executor.Executor
	rewriter *rewrite.Rewriter
	cfg      Config
	cache    *Cache
	logger   zerolog.Logger

	state    State
	txStatus byte
}

// New builds a Session around an already-accepted connection. id should
// be unique among concurrently live sessions (the Listener assigns it).
func New(id int64, conn net.Conn, exec executor.Executor, rewriter *rewrite.Rewriter, cfg Config, logger zerolog.Logger) *Session {
	return &Session{
		id:       id,
		conn:     conn,
		reader:   pgwire.NewReader(conn),
		writer:   pgwire.NewWriter(conn),
		exec:     exec,
		rewriter: rewriter,
		cfg:      cfg,
		cache:    NewCache(),
		logger:   logger.With().Int64("session", id).Logger(),
		state:    AwaitingStartup,
		txStatus: pgwire.TxIdle,
	}
}

// ID returns the session's connection id.
func (s *Session) ID() int64 { return s.id }

// State returns the session's current position in the lifecycle.
func (s *Session) State() State { return s.state }

// Run drives the session to completion, closing the underlying connection
// on return. It never returns an error: all terminal conditions (I/O
// failure, client Terminate, protocol violation severe enough to abort)
// are logged and simply end the loop.
func (s *Session) Run() {
	defer s.teardown()

	cancelled, err := s.doStartup()
	if err != nil {
		s.logger.Debug().Err(err).Msg("startup failed")
		return
	}
	if cancelled {
		return
	}

	for s.state != Terminated {
		msgType, payload, err := s.reader.ReadMessage()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.Debug().Err(err).Msg("read failed")
			}
			return
		}
		if err := s.dispatch(msgType, payload); err != nil {
			s.logger.Debug().Err(err).Msg("session terminating")
			return
		}
	}
}

func (s *Session) teardown() {
	s.cache.Clear()
	s.conn.Close()
	s.logger.Debug().Msg("session closed")
}

// doStartup runs the handshake: SSL refusal loop, optional cleartext
// password exchange (unvalidated), then the authentication-succeeded
// preamble. cancelled reports a CancelRequest, which the caller must
// close the connection on without writing anything further.
func (s *Session) doStartup() (cancelled bool, err error) {
	for {
		msg, isSSL, isCancel, err := s.reader.ReadStartup()
		if err != nil {
			return false, internalIOError(err)
		}
		if isSSL {
			if err := s.writer.WriteSSLRefuse(); err != nil {
				return false, internalIOError(err)
			}
			if err := s.flush(); err != nil {
				return false, err
			}
			continue
		}
		if isCancel {
			return true, nil
		}

		if s.cfg.AuthRequired {
			s.state = AwaitingPassword
			if err := s.writer.WriteAuthCleartextPassword(); err != nil {
				return false, internalIOError(err)
			}
			if err := s.flush(); err != nil {
				return false, err
			}
			msgType, _, err := s.reader.ReadMessage()
			if err != nil {
				return false, internalIOError(err)
			}
			if msgType != pgwire.MsgPasswordMessage {
				return false, protocolError("expected PasswordMessage, got %q", msgType)
			}
			// Password content is intentionally never checked; see Config.AuthRequired.
		}

		if err := s.writer.WriteAuthOk(); err != nil {
			return false, internalIOError(err)
		}
		params := [][2]string{
			{"server_version", s.cfg.ServerVersion},
			{"server_encoding", "UTF8"},
			{"client_encoding", "UTF8"},
			{"DateStyle", "ISO, MDY"},
		}
		for _, p := range params {
			if err := s.writer.WriteParameterStatus(p[0], p[1]); err != nil {
				return false, internalIOError(err)
			}
		}
		if err := s.writer.WriteBackendKeyData(int32(os.Getpid()), s.secretKey()); err != nil {
			return false, internalIOError(err)
		}
		s.state = Ready
		if err := s.writer.WriteReadyForQuery(pgwire.TxIdle); err != nil {
			return false, internalIOError(err)
		}
		_ = msg // parameters (user, database, ...) are accepted but not validated
		return false, s.flush()
	}
}

// secretKey derives a per-session cancellation secret. This implementation
// never acts on CancelRequest beyond closing the targeted connection (see
// §5), so the value only needs to look plausible to clients that store it.
func (s *Session) secretKey() int32 {
	id := uuid.New()
	return int32(binary.BigEndian.Uint32(id[:4]))
}

// dispatch routes one already-framed message to its handler, honoring the
// extended-batch failure rule: once in InFailedExtendedBatch, every
// message but Sync is silently dropped.
func (s *Session) dispatch(msgType byte, payload []byte) error {
	if s.state == InFailedExtendedBatch && msgType != pgwire.MsgSync {
		return nil
	}

	switch msgType {
	case pgwire.MsgQuery:
		return s.handleQuery(stripNull(payload))
	case pgwire.MsgParse:
		s.enterExtended()
		return s.absorbError(s.handleParse(payload))
	case pgwire.MsgBind:
		s.enterExtended()
		return s.absorbError(s.handleBind(payload))
	case pgwire.MsgDescribe:
		s.enterExtended()
		return s.absorbError(s.handleDescribe(payload))
	case pgwire.MsgExecute:
		s.enterExtended()
		return s.absorbError(s.handleExecute(payload))
	case pgwire.MsgClose:
		s.enterExtended()
		return s.absorbError(s.handleClose(payload))
	case pgwire.MsgFunctionCall:
		s.enterExtended()
		return s.absorbError(unsupportedError("the function-call sub-protocol is not supported"))
	case pgwire.MsgSync:
		return s.handleSync()
	case pgwire.MsgFlush:
		return s.flush()
	case pgwire.MsgTerminate:
		s.state = Terminated
		return nil
	default:
		return s.absorbError(protocolError("unsupported message type %q", msgType))
	}
}

func (s *Session) enterExtended() {
	if s.state == Ready {
		s.state = InExtendedBatch
	}
}

// absorbError reports a handler's error to the client and updates state.
// InternalIO errors propagate to the caller, ending the session. Every
// other error is reported as an ErrorResponse; whether the session then
// enters InFailedExtendedBatch or returns straight to Ready depends on
// whether it was already inside an extended batch.
func (s *Session) absorbError(err error) error {
	if err == nil {
		return nil
	}
	sessErr, ok := asSessionError(err)
	if !ok {
		sessErr = executionError(err)
	}
	if sessErr.Kind == InternalIO {
		return sessErr
	}
	if werr := s.sendError(sessErr); werr != nil {
		return internalIOError(werr)
	}
	if s.state == InExtendedBatch {
		s.state = InFailedExtendedBatch
		return nil
	}
	if err := s.writer.WriteReadyForQuery(s.txStatus); err != nil {
		return internalIOError(err)
	}
	return s.flush()
}

func (s *Session) sendError(err *Error) error {
	return s.writer.WriteErrorResponse("ERROR", err.Code, err.Message)
}

func asSessionError(err error) (*Error, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}

func (s *Session) flush() error {
	if err := s.writer.Flush(); err != nil {
		return internalIOError(err)
	}
	return nil
}

// handleQuery runs the simple-query flow end to end: it always leaves the
// session Ready and always ends with a ReadyForQuery, whether or not the
// query succeeded.
func (s *Session) handleQuery(query string) error {
	if strings.TrimSpace(query) == "" {
		if err := s.writer.WriteEmptyQueryResponse(); err != nil {
			return internalIOError(err)
		}
		return s.finishReady()
	}

	// SET is recognized only as a literal, untrimmed prefix, matching the
	// wire adapter this proxy is modeled on: "  SET x=1" is not skipped.
	if strings.HasPrefix(query, "SET ") {
		if err := s.writer.WriteCommandComplete("SET"); err != nil {
			return internalIOError(err)
		}
		return s.finishReady()
	}

	rewritten := s.rewriter.Apply(query)
	command := commandToken(rewritten)

	res, err := s.exec.Execute(context.Background(), rewritten)
	if err != nil {
		return s.absorbError(executionError(err))
	}

	if res.Columns != nil {
		if err := s.writeRowDescription(res.Columns); err != nil {
			return err
		}
		for _, row := range res.Rows {
			encoded, err := EncodeRow(res.Columns, row, nil, s.cfg.DefaultFormat, false, false)
			if err != nil {
				return s.absorbError(err)
			}
			if err := s.writer.WriteDataRow(encoded); err != nil {
				return internalIOError(err)
			}
		}
		if err := s.writer.WriteCommandComplete(CommandTag(command, int64(len(res.Rows)))); err != nil {
			return internalIOError(err)
		}
		return s.finishReady()
	}

	s.updateTxStatus(command)
	if err := s.writer.WriteCommandComplete(CommandTag(command, res.UpdateCount)); err != nil {
		return internalIOError(err)
	}
	return s.finishReady()
}

func (s *Session) finishReady() error {
	if err := s.writer.WriteReadyForQuery(s.txStatus); err != nil {
		return internalIOError(err)
	}
	return s.flush()
}

func (s *Session) updateTxStatus(command string) {
	switch command {
	case "BEGIN":
		s.txStatus = pgwire.TxInTx
	case "COMMIT", "ROLLBACK":
		s.txStatus = pgwire.TxIdle
	}
}

// handleParse installs a new (possibly unnamed) prepared statement.
func (s *Session) handleParse(payload []byte) error {
	msg, err := pgwire.DecodeParse(payload)
	if err != nil {
		return protocolError("decode parse: %v", err)
	}
	rewritten := s.rewriter.Apply(msg.Query)
	stmt := newStatement(msg.StatementName, msg.Query, rewritten, msg.ParamOIDs)
	if err := s.cache.PutStatement(stmt); err != nil {
		return err
	}
	if err := s.writer.WriteParseComplete(); err != nil {
		return internalIOError(err)
	}
	return nil
}

// handleBind constructs a portal binding a named statement's parameters.
func (s *Session) handleBind(payload []byte) error {
	msg, err := pgwire.DecodeBind(payload)
	if err != nil {
		return protocolError("decode bind: %v", err)
	}
	stmt, ok := s.cache.Statement(msg.StatementName)
	if !ok {
		return protocolError("bind: prepared statement %q does not exist", msg.StatementName)
	}
	portal, err := newPortal(msg.PortalName, stmt, msg.ParamFormats, msg.ParamValues, msg.ResultFormats)
	if err != nil {
		return err
	}
	s.cache.PutPortal(portal)
	if err := s.writer.WriteBindComplete(); err != nil {
		return internalIOError(err)
	}
	return nil
}

// handleDescribe reports a statement's parameter types, or a portal's
// result columns. Neither path executes anything: a not-yet-executed
// portal's result shape is unknowable without running it, so Describe
// reports NoData rather than execute speculatively — a documented
// limitation (DESIGN.md).
func (s *Session) handleDescribe(payload []byte) error {
	msg, err := pgwire.DecodeDescribe(payload)
	if err != nil {
		return protocolError("decode describe: %v", err)
	}
	switch msg.Target {
	case pgwire.TargetStatement:
		stmt, ok := s.cache.Statement(msg.Name)
		if !ok {
			return protocolError("describe: prepared statement %q does not exist", msg.Name)
		}
		if err := s.writer.WriteParameterDescription(stmt.ParamOIDs); err != nil {
			return internalIOError(err)
		}
		if err := s.writer.WriteNoData(); err != nil {
			return internalIOError(err)
		}
		return nil
	case pgwire.TargetPortal:
		portal, ok := s.cache.Portal(msg.Name)
		if !ok {
			return protocolError("describe: portal %q does not exist", msg.Name)
		}
		if portal.hasResultSet() {
			return s.writeRowDescription(portal.result.Columns)
		}
		if err := s.writer.WriteNoData(); err != nil {
			return internalIOError(err)
		}
		return nil
	default:
		return protocolError("describe: invalid target %q", msg.Target)
	}
}

// handleExecute runs a portal on first use and drains up to maxRows rows
// from its (now-materialized) result, or resumes a previously suspended
// drain.
func (s *Session) handleExecute(payload []byte) error {
	msg, err := pgwire.DecodeExecute(payload)
	if err != nil {
		return protocolError("decode execute: %v", err)
	}
	portal, ok := s.cache.Portal(msg.PortalName)
	if !ok {
		return protocolError("execute: portal %q does not exist", msg.PortalName)
	}

	if portal.result == nil {
		res, err := s.runPortal(portal)
		if err != nil {
			return err
		}
		portal.bindResult(res)
		s.updateTxStatus(portal.Statement.Command)
	}

	return s.drainPortal(portal, msg.MaxRows)
}

func (s *Session) runPortal(portal *Portal) (*executor.Result, error) {
	sql, err := substituteParams(portal.Statement.RewrittenSQL, portal.Statement, portal.ParamValues, portal.ParamFormats)
	if err != nil {
		return nil, err
	}
	res, err := s.exec.Execute(context.Background(), sql)
	if err != nil {
		return nil, executionError(err)
	}
	return res, nil
}

func (s *Session) drainPortal(portal *Portal, maxRows int32) error {
	if !portal.hasResultSet() {
		if portal.done {
			if err := s.writer.WriteCommandComplete(CommandTag(portal.Statement.Command, 0)); err != nil {
				return internalIOError(err)
			}
			return nil
		}
		portal.done = true
		if err := s.writer.WriteCommandComplete(CommandTag(portal.Statement.Command, portal.result.UpdateCount)); err != nil {
			return internalIOError(err)
		}
		return nil
	}

	remaining := portal.remainingRows()
	limit := len(remaining)
	suspended := false
	if maxRows > 0 && int(maxRows) < limit {
		limit = int(maxRows)
		suspended = true
	}
	for _, row := range remaining[:limit] {
		encoded, err := EncodeRow(portal.result.Columns, row, portal.ResultFormats, s.cfg.DefaultFormat, s.cfg.ForceBinary, true)
		if err != nil {
			return err
		}
		if err := s.writer.WriteDataRow(encoded); err != nil {
			return internalIOError(err)
		}
	}
	portal.advance(limit)

	if suspended {
		if err := s.writer.WritePortalSuspended(); err != nil {
			return internalIOError(err)
		}
		return nil
	}
	if err := s.writer.WriteCommandComplete(CommandTag(portal.Statement.Command, int64(portal.nextRow))); err != nil {
		return internalIOError(err)
	}
	return nil
}

// handleClose destroys a named statement or portal. Closing a name that
// doesn't exist is not an error, per protocol.
func (s *Session) handleClose(payload []byte) error {
	msg, err := pgwire.DecodeClose(payload)
	if err != nil {
		return protocolError("decode close: %v", err)
	}
	switch msg.Target {
	case pgwire.TargetStatement:
		s.cache.CloseStatement(msg.Name)
	case pgwire.TargetPortal:
		s.cache.ClosePortal(msg.Name)
	default:
		return protocolError("close: invalid target %q", msg.Target)
	}
	if err := s.writer.WriteCloseComplete(); err != nil {
		return internalIOError(err)
	}
	return nil
}

// handleSync ends the current extended batch, reporting the transaction
// status PostgreSQL clients rely on to know whether to issue a COMMIT.
func (s *Session) handleSync() error {
	status := s.txStatus
	if s.state == InFailedExtendedBatch {
		status = pgwire.TxFailed
	}
	s.cache.ClosePortalsAtTransactionEnd()
	s.state = Ready
	if err := s.writer.WriteReadyForQuery(status); err != nil {
		return internalIOError(err)
	}
	return s.flush()
}

func (s *Session) writeRowDescription(cols []executor.Column) error {
	infos := make([]pgwire.ColumnInfo, len(cols))
	for i, c := range cols {
		infos[i] = pgwire.ColumnInfo{
			Name:         c.Name,
			DataTypeOID:  c.OID,
			DataTypeSize: c.Size,
			TypeModifier: -1,
		}
	}
	if err := s.writer.WriteRowDescription(infos); err != nil {
		return internalIOError(err)
	}
	return nil
}

// stripNull removes the trailing NUL terminator the wire protocol puts on
// a simple Query message's body.
func stripNull(b []byte) string {
	if len(b) > 0 && b[len(b)-1] == 0 {
		return string(b[:len(b)-1])
	}
	return string(b)
}
