// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package errors_test

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	ensembleerrors "github.com/tombee/ensemble/pkg/errors"
)

func TestWrap(t *testing.T) {
	assert.Nil(t, ensembleerrors.Wrap(nil, "loading"))

	base := errors.New("no such file")
	err := ensembleerrors.Wrapf(base, "loading %s", "config.yaml")
	assert.Equal(t, "loading config.yaml: no such file", err.Error())
	assert.True(t, ensembleerrors.Is(err, base))
}

type visible struct{ msg, hint string }

func (v visible) Error() string       { return v.msg }
func (v visible) IsUserVisible() bool { return true }
func (v visible) UserMessage() string { return v.msg }
func (v visible) Suggestion() string  { return v.hint }

func TestFindUserVisible(t *testing.T) {
	_, ok := ensembleerrors.FindUserVisible(errors.New("plain"))
	assert.False(t, ok)

	err := ensembleerrors.Wrap(visible{msg: "unknown tool", hint: "run /tools"}, "dispatch")
	uv, ok := ensembleerrors.FindUserVisible(err)
	assert.True(t, ok)
	assert.Equal(t, "run /tools", uv.Suggestion())
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, ensembleerrors.IsRetryable(errors.New("plain")))
	assert.True(t, ensembleerrors.IsRetryable(ensembleerrors.Wrap(&ensembleerrors.TimeoutError{Operation: "x", Duration: time.Second}, "y")))
	assert.False(t, ensembleerrors.IsRetryable(&ensembleerrors.ConfigError{Reason: "bad"}))
}
