// Copyright 2025 The cage Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package audit

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// textFormatter renders "[LEVEL] TIMESTAMP component message key=value...".
type textFormatter struct{}

func levelTag(level logrus.Level) string {
	switch level {
	case logrus.WarnLevel:
		return "WARN"
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (textFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	comp := component
	if c, ok := e.Data["component"].(string); ok {
		comp = c
	}
	fmt.Fprintf(&b, "[%s] %s %s %s", levelTag(e.Level),
		e.Time.Format(time.RFC3339), comp, e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		if k == "component" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}
