package db

import (
	"database/sql/driver"
	"io"
	"strings"

	"github.com/mattn/go-sqlite3"

	"go.relite.dev/core/protocol"
)

// Stmt wraps one prepared statement of the embedded engine, together with
// the tail of SQL text the engine did not consume. It is registered in its
// session's statement registry for as long as the handle is live.
type Stmt struct {
	id   uint32
	sql  string
	tail string

	ds *sqlite3.SQLiteStmt
}

// ID returns the registry ID of the statement.
func (s *Stmt) ID() uint32 { return s.id }

// SQL returns the text the statement was prepared from.
func (s *Stmt) SQL() string { return s.sql }

// Tail returns SQL text following the first statement, which the engine
// left unconsumed.
func (s *Stmt) Tail() string { return s.tail }

// NumInput returns the number of bound parameters.
func (s *Stmt) NumInput() uint64 { return uint64(s.ds.NumInput()) }

// Exec binds |params| and steps the statement to completion, returning
// the engine's last-insert rowid and affected row count. On failure the
// statement is left reset for reuse.
func (s *Stmt) Exec(params []protocol.Value) (lastInsertID, rowsAffected uint64, err error) {
	var args []driver.Value
	if args, err = bindArgs(params); err != nil {
		return
	}

	var res driver.Result
	if res, err = s.ds.Exec(args); err != nil {
		return 0, 0, engineErr(err)
	}

	var id, _ = res.LastInsertId()
	var n, _ = res.RowsAffected()
	return uint64(id), uint64(n), nil
}

// Query binds |params| and yields every result row. On failure the
// statement is left reset for reuse.
func (s *Stmt) Query(params []protocol.Value) (columns []string, rows [][]protocol.Value, err error) {
	var args []driver.Value
	if args, err = bindArgs(params); err != nil {
		return
	}

	var dr driver.Rows
	if dr, err = s.ds.Query(args); err != nil {
		return nil, nil, engineErr(err)
	}
	defer dr.Close()

	columns = dr.Columns()

	// The engine reports TEXT and BLOB columns both as []byte. Use the
	// declared column types to pick between the two storage classes.
	var decls []string
	if sr, ok := dr.(*sqlite3.SQLiteRows); ok {
		decls = sr.DeclTypes()
	}

	var dest = make([]driver.Value, len(columns))
	for {
		if err = dr.Next(dest); err == io.EOF {
			return columns, rows, nil
		} else if err != nil {
			return nil, nil, engineErr(err)
		}

		var row = make([]protocol.Value, len(dest))
		for i, v := range dest {
			row[i] = resultValue(v, decl(decls, i))
		}
		rows = append(rows, row)
	}
}

func decl(decls []string, i int) string {
	if i < len(decls) {
		return strings.ToLower(decls[i])
	}
	return ""
}

// bindArgs converts wire values into engine binding values.
func bindArgs(params []protocol.Value) ([]driver.Value, error) {
	var args = make([]driver.Value, len(params))
	for i, p := range params {
		switch p.Type {
		case protocol.Integer:
			args[i] = p.Int
		case protocol.Float:
			args[i] = p.Float
		case protocol.Text:
			args[i] = p.Text
		case protocol.Blob:
			args[i] = p.Blob
		case protocol.Null:
			args[i] = nil
		default:
			return nil, protocol.Errf(protocol.CodeProtocol,
				"unknown parameter type %d", p.Type)
		}
	}
	return args, nil
}

// resultValue converts an engine column value into a wire value.
func resultValue(v driver.Value, decl string) protocol.Value {
	switch t := v.(type) {
	case nil:
		return protocol.Value{Type: protocol.Null}
	case int64:
		return protocol.Value{Type: protocol.Integer, Int: t}
	case float64:
		return protocol.Value{Type: protocol.Float, Float: t}
	case string:
		return protocol.Value{Type: protocol.Text, Text: t}
	case []byte:
		if strings.Contains(decl, "blob") {
			return protocol.Value{Type: protocol.Blob, Blob: t}
		}
		return protocol.Value{Type: protocol.Text, Text: string(t)}
	case bool:
		var i int64
		if t {
			i = 1
		}
		return protocol.Value{Type: protocol.Integer, Int: i}
	}
	return protocol.Value{Type: protocol.Null}
}

// sqlTail returns text following the first complete statement of |sql|.
// The engine compiles only the first statement; the remainder is kept on
// the handle so a caller can prepare it in turn. A ';' inside a quoted
// literal, a '--' line comment, or a '/* */' block comment does not end
// the statement.
func sqlTail(sql string) string {
	var inSingle, inDouble bool
	for i := 0; i < len(sql); i++ {
		var c = sql[i]

		if inSingle {
			inSingle = c != '\''
			continue
		} else if inDouble {
			inDouble = c != '"'
			continue
		}

		switch {
		case c == '\'':
			inSingle = true
		case c == '"':
			inDouble = true
		case c == '-' && i+1 < len(sql) && sql[i+1] == '-':
			var end = strings.IndexByte(sql[i:], '\n')
			if end < 0 {
				return ""
			}
			i += end
		case c == '/' && i+1 < len(sql) && sql[i+1] == '*':
			var end = strings.Index(sql[i+2:], "*/")
			if end < 0 {
				return ""
			}
			i += end + 3
		case c == ';':
			return strings.TrimSpace(sql[i+1:])
		}
	}
	return ""
}
