package command

import (
	"strconv"
	"strings"
)

func formatFloat(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }

func formatInt(v int) string { return strconv.Itoa(v) }

func joinArgs(args []string) string { return strings.Join(args, " ") }
