package schema

import _ "embed"

// SQL — миграция журнала, применяется на старте (идемпотентна).
//
//go:embed 001_trade_journal.sql
var SQL string
