package handler

// Shared state for all handlers.

import (
	msdb "github.com/yumyai/magscreen/pkg/db"
)

type DBContext struct {
	Results *msdb.ResultsDB
}
