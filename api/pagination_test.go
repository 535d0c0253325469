// Copyright 2025 Cachet Labs
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

package api

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePaginationDefaultValues(t *testing.T) {
	req := httptest.NewRequest("GET", "/gifts", nil)
	params, err := ParsePagination(req)
	require.NoError(t, err)
	assert.Equal(t, DefaultPaginationCount, params.Count)
	assert.Equal(t, DefaultPaginationPage, params.Page)
	assert.Equal(t, 0, params.Offset())
}

func TestParsePaginationValidValues(t *testing.T) {
	req := httptest.NewRequest("GET", "/gifts?count=25&page=3", nil)
	params, err := ParsePagination(req)
	require.NoError(t, err)
	assert.Equal(t, 25, params.Count)
	assert.Equal(t, 3, params.Page)
	assert.Equal(t, 50, params.Offset())
}

func TestParsePaginationClampBounds(t *testing.T) {
	testCases := []struct {
		name          string
		query         string
		expectedCount int
		expectedPage  int
	}{
		{
			name:          "count above max",
			query:         "?count=500",
			expectedCount: MaxPaginationCount,
			expectedPage:  DefaultPaginationPage,
		},
		{
			name:          "count below min",
			query:         "?count=0",
			expectedCount: 1,
			expectedPage:  DefaultPaginationPage,
		},
		{
			name:          "negative count",
			query:         "?count=-5",
			expectedCount: 1,
			expectedPage:  DefaultPaginationPage,
		},
		{
			name:          "page below min",
			query:         "?page=0",
			expectedCount: DefaultPaginationCount,
			expectedPage:  1,
		},
		{
			name:          "negative page",
			query:         "?page=-2",
			expectedCount: DefaultPaginationCount,
			expectedPage:  1,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(
				"GET",
				"/gifts"+tc.query,
				nil,
			)
			params, err := ParsePagination(req)
			require.NoError(t, err)
			assert.Equal(t, tc.expectedCount, params.Count)
			assert.Equal(t, tc.expectedPage, params.Page)
		})
	}
}

func TestParsePaginationInvalidValues(t *testing.T) {
	testCases := []string{
		"?count=abc",
		"?page=xyz",
		"?count=2.5",
	}
	for _, tc := range testCases {
		t.Run(tc, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/gifts"+tc, nil)
			_, err := ParsePagination(req)
			assert.ErrorIs(t, err, ErrInvalidPaginationParameters)
		})
	}
}

func TestPaginationOffset(t *testing.T) {
	assert.Equal(t, 0, PaginationParams{Count: 20, Page: 1}.Offset())
	assert.Equal(t, 20, PaginationParams{Count: 20, Page: 2}.Offset())
	assert.Equal(t, 80, PaginationParams{Count: 20, Page: 5}.Offset())
}

func TestSetPaginationHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SetPaginationHeaders(w, 42, PaginationParams{Count: 10, Page: 2})
	assert.Equal(
		t,
		"42",
		w.Header().Get("X-Pagination-Count-Total"),
	)
	assert.Equal(
		t,
		"5",
		w.Header().Get("X-Pagination-Page-Total"),
	)
}

func TestSetPaginationHeadersZeroTotal(t *testing.T) {
	w := httptest.NewRecorder()
	SetPaginationHeaders(w, 0, PaginationParams{Count: 10, Page: 1})
	assert.Equal(
		t,
		"0",
		w.Header().Get("X-Pagination-Count-Total"),
	)
	assert.Equal(
		t,
		"0",
		w.Header().Get("X-Pagination-Page-Total"),
	)
}
