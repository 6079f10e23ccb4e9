package jsondb

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	ctx := t.Context()
	dsn := "file:" + filepath.Join(t.TempDir(), "jsondb.db") + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	opts = append([]Option{WithIndexes(
		Index{Collection: MustParsePath("/pair"), Field: "key"},
		Index{Collection: MustParsePath("/users"), Field: "name"},
		Index{Collection: MustParsePath("/users"), Field: "age"},
	)}, opts...)
	s, err := New(ctx, db, opts...)
	require.NoError(t, err)
	require.Equal(t, SQLite, s.Dialect())
	require.NoError(t, s.CreateTables(ctx))
	return s
}

func mustSet(t *testing.T, s *Store, path, body string) {
	t.Helper()
	require.NoError(t, s.SetString(t.Context(), path, body), "Set(%s)", path)
}

func mustGet(t *testing.T, s *Store, path string, opts *GetOptions) string {
	t.Helper()
	got, ok, err := s.GetString(t.Context(), path, opts)
	require.NoError(t, err, "Get(%s)", path)
	require.True(t, ok, "Get(%s) found nothing", path)
	return got
}

func TestStore_InvalidKeys(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	for _, c := range []string{"[", "]", ".", "%", "$", "#", "\n"} {
		err := s.SetString(ctx, "/test"+c, `{"key":"Hiram Chirino"}`)
		require.ErrorIs(t, err, ErrInvalidPath, "%q", c)
		assert.True(t, strings.HasPrefix(err.Error(), "invalid key"), err.Error())
	}
	for _, c := range []string{"[", "]", ".", "%", "$", "#", "/", "\n"} {
		body, _ := json.Marshal(map[string]string{"bad" + c + "key": "Hiram Chirino"})
		err := s.SetBytes(ctx, "/test", body)
		require.ErrorIs(t, err, ErrInvalidPath, "%s", body)
		assert.True(t, strings.HasPrefix(err.Error(), "invalid key"), err.Error())
	}
	ok, err := s.Exists(ctx, "/test")
	require.NoError(t, err)
	assert.False(t, ok, "rejected writes left data behind")
	assert.ErrorIs(t, s.SetString(ctx, "/test", `{"a":`), ErrInvalidDocument)
	assert.ErrorIs(t, s.SetString(ctx, "/test", `{} {}`), ErrInvalidDocument)
}

func TestStore_Update(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	mustSet(t, s, "/test", `{"name":"Hiram Chirino","props":{"city":"Tampa","state":"FL"}}`)

	// Only the named members change, and members can be paths.
	require.NoError(t, s.UpdateString(ctx, "/test", `{"name":"Ana Chirino","props/city":"Miami"}`))
	assert.Equal(t, `{"name":"Ana Chirino","props":{"city":"Miami","state":"FL"}}`, mustGet(t, s, "/test", nil))

	require.NoError(t, s.UpdateString(ctx, "/test", `{"props":null}`))
	want := `{"name":"Ana Chirino","props":null}`
	assert.Equal(t, want, mustGet(t, s, "/test", nil))

	t.Run("RequiresObject", func(t *testing.T) {
		assert.ErrorIs(t, s.UpdateString(ctx, "/test", `[1]`), ErrInvalidDocument)
	})
	t.Run("AllOrNothing", func(t *testing.T) {
		require.ErrorIs(t, s.UpdateString(ctx, "/test", `{"name":"x","bad.key":1}`), ErrInvalidPath)
		assert.Equal(t, want, mustGet(t, s, "/test", nil))
	})
	t.Run("SubpathKeepsSiblings", func(t *testing.T) {
		mustSet(t, s, "/a", `{"x":1,"y":{"z":2}}`)
		require.NoError(t, s.UpdateString(ctx, "/a/y", `{"w":3}`))
		assert.Equal(t, `{"x":1,"y":{"w":3,"z":2}}`, mustGet(t, s, "/a", nil))
		mustSet(t, s, "/", `{"only":true}`)
		assert.Equal(t, `{"only":true}`, mustGet(t, s, "/", nil))
	})
}

func TestStore_DigitSegments(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()

	// Paths read digit segments as array positions, so objects cannot use
	// them as keys.
	err := s.SetString(ctx, "/obj", `{"10":"x","a":1}`)
	require.ErrorIs(t, err, ErrInvalidPath)
	assert.ErrorIs(t, s.UpdateString(ctx, "/obj", `{"a":{"10":"y"}}`), ErrInvalidPath)
	ok, err := s.Exists(ctx, "/obj")
	require.NoError(t, err)
	assert.False(t, ok)

	// The same segment written through paths round-trips.
	mustSet(t, s, "/obj/10", `"x"`)
	assert.Equal(t, `"x"`, mustGet(t, s, "/obj/10", nil))
	require.NoError(t, s.UpdateString(ctx, "/obj", `{"10":"y"}`))
	assert.Equal(t, `"y"`, mustGet(t, s, "/obj/10", nil))
	assert.Equal(t, `[null,null,null,null,null,null,null,null,null,null,"y"]`, mustGet(t, s, "/obj", nil))
	deleted, err := s.Delete(ctx, "/obj/10")
	require.NoError(t, err)
	assert.True(t, deleted)
	ok, err = s.Exists(ctx, "/obj")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	mustSet(t, s, "/test", `{"name":"Hiram Chirino"}`)

	st, err := s.Get(ctx, "/does-not-exist", nil)
	require.NoError(t, err)
	assert.Nil(t, st)
	b, err := s.GetBytes(ctx, "/bar", nil)
	require.NoError(t, err)
	assert.Nil(t, b)
	_, ok, err := s.GetString(ctx, "/bar", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Delete(ctx, "/does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
	_, err = s.Get(ctx, "relative", nil)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

const sixUsers = `{"user1":"test 1","user2":"test 2","user3":"test 3","user4":"test 4","user5":"test 5","user6":"test 6"}`

func TestStore_Window(t *testing.T) {
	s := newTestStore(t)
	mustSet(t, s, "/test", sixUsers)
	tests := []struct {
		name string
		opts *GetOptions
		want string
	}{
		{"Default", NewGetOptions(), sixUsers},
		{"ASC", NewGetOptions().SetOrder(Ascending), sixUsers},
		{"DESC", NewGetOptions().SetOrder(Descending), `{"user6":"test 6","user5":"test 5","user4":"test 4","user3":"test 3","user2":"test 2","user1":"test 1"}`},
		{"Limit", NewGetOptions().SetLimitToFirst(3), `{"user1":"test 1","user2":"test 2","user3":"test 3"}`},
		{"LimitDESC", NewGetOptions().SetLimitToFirst(2).SetOrder(Descending), `{"user6":"test 6","user5":"test 5"}`},
		{"StartAfter", NewGetOptions().SetStartAfter("user3"), `{"user4":"test 4","user5":"test 5","user6":"test 6"}`},
		{"StartAfterDESC", NewGetOptions().SetStartAfter("user3").SetOrder(Descending), `{"user2":"test 2","user1":"test 1"}`},
		{"StartAt", NewGetOptions().SetStartAt("user4"), `{"user4":"test 4","user5":"test 5","user6":"test 6"}`},
		{"StartAtDESC", NewGetOptions().SetStartAt("user2").SetOrder(Descending), `{"user2":"test 2","user1":"test 1"}`},
		{"EndBefore", NewGetOptions().SetEndBefore("user5"), `{"user1":"test 1","user2":"test 2","user3":"test 3","user4":"test 4"}`},
		{"EndBeforeDESC", NewGetOptions().SetEndBefore("user2").SetOrder(Descending), `{"user6":"test 6","user5":"test 5","user4":"test 4","user3":"test 3"}`},
		{"EndAt", NewGetOptions().SetEndAt("user4"), `{"user1":"test 1","user2":"test 2","user3":"test 3","user4":"test 4"}`},
		{"EndAtDESC", NewGetOptions().SetEndAt("user3").SetOrder(Descending), `{"user6":"test 6","user5":"test 5","user4":"test 4","user3":"test 3"}`},
		{"StartAtEndAt", NewGetOptions().SetStartAt("user2").SetEndAt("user4"), `{"user2":"test 2","user3":"test 3","user4":"test 4"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustGet(t, s, "/test", tt.opts))
		})
	}

	t.Run("PrefixBounds", func(t *testing.T) {
		mustSet(t, s, "/prefix", `{"user1":"1","user2:1":"2","user2:2":"3","user2:3":"4","user4":"5"}`)
		got := mustGet(t, s, "/prefix", NewGetOptions().SetStartAt("user2:").SetEndAt("user2:"))
		assert.Equal(t, `{"user2:1":"2","user2:2":"3","user2:3":"4"}`, got)
	})

	t.Run("LimitDeeper", func(t *testing.T) {
		err := s.UpdateString(t.Context(), "/deep", `{"user1/value":"test 1","user2/value":"test 2","user3/value":"test 3","user4/value":"test 4"}`)
		require.NoError(t, err)
		got := mustGet(t, s, "/deep", NewGetOptions().SetLimitToFirst(3))
		assert.Equal(t, `{"user1":{"value":"test 1"},"user2":{"value":"test 2"},"user3":{"value":"test 3"}}`, got)
	})

	t.Run("Array", func(t *testing.T) {
		mustSet(t, s, "/arr", `[1,[2,3],{"k":[4]},-1.5,1e3,"s",null,true]`)
		assert.Equal(t, `[{"k":[4]},-1.5,1000,"s",null,true]`, mustGet(t, s, "/arr", NewGetOptions().SetStartAt("2")))
		assert.Equal(t, `[[2,3],{"k":[4]}]`, mustGet(t, s, "/arr", NewGetOptions().SetStartAfter("0").SetEndAt("2")))
		assert.Equal(t, `[true,null,"s"]`, mustGet(t, s, "/arr", NewGetOptions().SetOrder(Descending).SetLimitToFirst(3)))
	})

	t.Run("InvalidWindowKey", func(t *testing.T) {
		_, err := s.Get(t.Context(), "/test", NewGetOptions().SetStartAt("a/b"))
		assert.ErrorIs(t, err, ErrInvalidPath)
	})
}

func TestStore_Depth(t *testing.T) {
	s := newTestStore(t)
	mustSet(t, s, "/test", `{"name":"Hiram Chirino","props":{"city":"Tampa","state":"FL","more-props":{"city":"Tampa","state":"FL"}}}`)

	assert.Equal(t, `{"name":"Hiram Chirino"}`, mustGet(t, s, "/test", NewGetOptions().SetDepth(1)))
	assert.Equal(t, `{"name":"Hiram Chirino","props":{"city":"Tampa","state":"FL"}}`, mustGet(t, s, "/test", NewGetOptions().SetDepth(2)))

	ctx := t.Context()
	_, err := s.Delete(ctx, "/test")
	require.NoError(t, err)
	for i, p := range []string{"/test/a1/b1/c1", "/test/a1/b2/c1", "/test/a2/b3/c1"} {
		mustSet(t, s, p, fmt.Sprint(i))
	}
	assert.Equal(t, `{}`, mustGet(t, s, "/test", NewGetOptions().SetDepth(1)))
	assert.Equal(t, `{ }`, mustGet(t, s, "/test", NewGetOptions().SetDepth(1).SetPrettyPrint(true)))
	mustSet(t, s, "/list", `[[1],[2]]`)
	assert.Equal(t, `[]`, mustGet(t, s, "/list", NewGetOptions().SetDepth(1)))

	// Containers beyond the depth are left out, not replaced by null.
	mustSet(t, s, "/arr", `[1,[2,3],{"k":[4]},-1.5,1e3,"s",null,true]`)
	assert.Equal(t, `[1,-1.5,1000,"s",null,true]`, mustGet(t, s, "/arr", NewGetOptions().SetDepth(1)))
	assert.Equal(t, `[true,null,"s",1000,-1.5,1]`, mustGet(t, s, "/arr", NewGetOptions().SetDepth(1).SetOrder(Descending)))
	assert.Equal(t, `[1,[2,3],-1.5,1000,"s",null,true]`, mustGet(t, s, "/arr", NewGetOptions().SetDepth(2)))
}

func TestStore_Output(t *testing.T) {
	s := newTestStore(t)
	mustSet(t, s, "/test", `{"name":"Hiram Chirino"}`)

	t.Run("Callback", func(t *testing.T) {
		assert.Equal(t, `myfunction({"test":{"name":"Hiram Chirino"}})`, mustGet(t, s, "/", NewGetOptions().SetCallback("myfunction")))
		_, err := s.Get(t.Context(), "/", NewGetOptions().SetCallback("alert(1)"))
		assert.ErrorIs(t, err, ErrInvalidPath)
	})
	t.Run("PrettyPrint", func(t *testing.T) {
		assert.Equal(t, "{\n  \"test\" : {\n    \"name\" : \"Hiram Chirino\"\n  }\n}", mustGet(t, s, "/", NewGetOptions().SetPrettyPrint(true)))
		compact := `{"test":{"name":"Hiram Chirino"}}`
		assert.Equal(t, compact, mustGet(t, s, "/", NewGetOptions().SetPrettyPrint(false)))
		assert.Equal(t, compact, mustGet(t, s, "/", nil))
	})
	t.Run("ArrayOfObject", func(t *testing.T) {
		mustSet(t, s, "/test", `[{"id":"foo"}]`)
		assert.Equal(t, "{\n  \"test\" : [ {\n    \"id\" : \"foo\"\n  } ]\n}", mustGet(t, s, "/", NewGetOptions().SetPrettyPrint(true)))
	})
	t.Run("Stream", func(t *testing.T) {
		st, err := s.Get(t.Context(), "/test", nil)
		require.NoError(t, err)
		require.NotNil(t, st)
		var buf bytes.Buffer
		n, err := st.WriteTo(&buf)
		require.NoError(t, err)
		assert.Equal(t, `[{"id":"foo"}]`, buf.String())
		assert.Equal(t, int64(buf.Len()), n)
		assert.NoError(t, st.Close(), "Close() after WriteTo")

		st, err = s.Get(t.Context(), "/test", nil)
		require.NoError(t, err)
		require.NoError(t, st.Close())
		_, err = st.WriteTo(&buf)
		assert.Error(t, err, "WriteTo() after Close")
	})
}

func TestStore_Push(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	k1, err := s.PushString(ctx, "/test", `{"name":"Hiram Chirino"}`)
	require.NoError(t, err)
	k2, err := s.PushString(ctx, "/test", `{"name":"Ana Chirino"}`)
	require.NoError(t, err)
	require.Less(t, k1, k2)
	want := `{"` + k1 + `":{"name":"Hiram Chirino"},"` + k2 + `":{"name":"Ana Chirino"}}`
	assert.Equal(t, want, mustGet(t, s, "/test", nil))
	_, err = s.PushString(ctx, "/test", `{`)
	assert.ErrorIs(t, err, ErrInvalidDocument)

	t.Run("Concurrent", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 40)
		for range 4 {
			wg.Go(func() {
				for range 10 {
					if _, err := s.PushString(ctx, "/many", `{"v":1}`); err != nil {
						errs <- err
					}
				}
			})
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}
		var got map[string]any
		require.NoError(t, json.Unmarshal([]byte(mustGet(t, s, "/many", nil)), &got))
		assert.Len(t, got, 40)
	})
}

func TestStore_DataTypes(t *testing.T) {
	s := newTestStore(t)
	user := `{"name":"Joe","developer":false,"admin":true,"age":25,"gpa":3.52,"token":null}`
	mustSet(t, s, "/users/u1000", user)

	want := `{
  "users" : {
    "u1000" : {
      "admin" : true,
      "age" : 25,
      "developer" : false,
      "gpa" : 3.52,
      "name" : "Joe",
      "token" : null
    }
  }
}`
	assert.Equal(t, want, mustGet(t, s, "/", NewGetOptions().SetPrettyPrint(true)))
	leaves := map[string]string{
		"name":      `"Joe"`,
		"developer": "false",
		"admin":     "true",
		"age":       "25",
		"gpa":       "3.52",
		"token":     "null",
	}
	for k, want := range leaves {
		assert.Equal(t, want, mustGet(t, s, "/users/u1000/"+k, nil), k)
	}
	_, ok, err := s.GetString(t.Context(), "/users/u1000/error", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	mustSet(t, s, "/num", `[-1.5, 1e2, -0, 12345678901234567890]`)
	assert.Equal(t, `[-1.5,100,0,12345678901234567890]`, mustGet(t, s, "/num", nil))
}

func TestStore_Set(t *testing.T) {
	s := newTestStore(t)
	user := `{"name":"Joe","developer":false,"admin":true,"age":25,"gpa":3.52,"token":null}`
	mustSet(t, s, "/", user)
	assert.Equal(t, `{"admin":true,"age":25,"developer":false,"gpa":3.52,"name":"Joe","token":null}`, mustGet(t, s, "/", nil))

	// Writing below a leaf replaces the leaf with an object.
	mustSet(t, s, "/developer/users/u1000", `{"name":"Joe"}`)
	assert.Equal(t, `{"users":{"u1000":{"name":"Joe"}}}`, mustGet(t, s, "/developer", nil))

	// Writing a new object wipes the previous values at that path.
	mustSet(t, s, "/", `{"name":"Hiram","city":"Tampa"}`)
	assert.Equal(t, `{"city":"Tampa","name":"Hiram"}`, mustGet(t, s, "/", nil))

	mustSet(t, s, "/", `"scalar"`)
	assert.Equal(t, `"scalar"`, mustGet(t, s, "/", nil))
	mustSet(t, s, "/", `{}`)
	_, ok, err := s.GetString(t.Context(), "/", nil)
	require.NoError(t, err)
	assert.False(t, ok, "empty object should store nothing")
}

func TestStore_Arrays(t *testing.T) {
	s := newTestStore(t)
	mustSet(t, s, "/", `["hi",100]`)
	assert.Equal(t, `[ "hi", 100 ]`, mustGet(t, s, "/", NewGetOptions().SetPrettyPrint(true)))

	mustSet(t, s, "/", `{"data":["hi",100,"other"]}`)
	mustSet(t, s, "/data/1", `"update"`)
	assert.Equal(t, `{"data":["hi","update","other"]}`, mustGet(t, s, "/", nil))
	assert.Equal(t, `["other","update","hi"]`, mustGet(t, s, "/data", NewGetOptions().SetOrder(Descending)))
	assert.Equal(t, `["update","other"]`, mustGet(t, s, "/data", NewGetOptions().SetStartAt("1")))

	// Holes in storage read back as null.
	mustSet(t, s, "/sparse/2", `"c"`)
	assert.Equal(t, `[null,null,"c"]`, mustGet(t, s, "/sparse", nil))
	assert.Equal(t, `["c"]`, mustGet(t, s, "/sparse", NewGetOptions().SetOrder(Descending)))

	// Large arrays stay sorted.
	mustSet(t, s, "/", `[1,2,3,4,5,6,7,8,9,10,11,12,13]`)
	assert.Equal(t, `[1,2,3,4,5,6,7,8,9,10,11,12,13]`, mustGet(t, s, "/", nil))
	assert.Equal(t, `13`, mustGet(t, s, "/12", nil))
}

func TestStore_DeleteExists(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	mustSet(t, s, "/", `{"name":"Joe","developer":false}`)

	ok, err := s.Exists(ctx, "/badpath")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.Exists(ctx, "/name")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "/badpath")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, `{"developer":false,"name":"Joe"}`, mustGet(t, s, "/", nil))
	ok, err = s.Delete(ctx, "/name")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"developer":false}`, mustGet(t, s, "/", nil))

	// A key that is a prefix of another key is a different node.
	mustSet(t, s, "/ab", `1`)
	mustSet(t, s, "/a", `2`)
	_, err = s.Delete(ctx, "/a")
	require.NoError(t, err)
	ok, err = s.Exists(ctx, "/ab")
	require.NoError(t, err)
	assert.True(t, ok, "Delete(/a) removed /ab")
}

func TestStore_FetchIDsByPropertyValue(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	mustSet(t, s, "/pair/:id", `{"key":"value","other":"x"}`)
	mustSet(t, s, "/pair/:id2", `{"key":"value2","other":"x","nested":{"other":"x"}}`)

	ids, err := s.FetchIDsByPropertyValue(ctx, "/pair", "key", "value")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{":id": {}}, ids)
	ids, err = s.FetchIDsByPropertyValue(ctx, "/pair", "key", "nope")
	require.NoError(t, err)
	assert.Empty(t, ids)
	// Not indexed: scans the collection.
	ids, err = s.FetchIDsByPropertyValue(ctx, "/pair", "other", "x")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	_, err = s.FetchIDsByPropertyValue(ctx, "/pair", "bad/prop", "x")
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestStore_Filter(t *testing.T) {
	s := newTestStore(t)
	mustSet(t, s, "/users/u1", `{"name":"u1","age":9}`)
	mustSet(t, s, "/users/u2", `{"name":"u2","age":10}`)
	mustSet(t, s, "/users/u3", `{"name":"u3","age":21}`)
	const (
		u1 = `"u1":{"age":9,"name":"u1"}`
		u2 = `"u2":{"age":10,"name":"u2"}`
		u3 = `"u3":{"age":21,"name":"u3"}`
	)
	tests := []struct {
		name   string
		filter Filter
		want   string
	}{
		{"StringEQ", Child("name", EQ, "u2"), "{" + u2 + "}"},
		{"StringNEQ", Child("name", NEQ, "u2"), "{" + u1 + "," + u3 + "}"},
		{"StringLT", Child("name", LT, "u2"), "{" + u1 + "}"},
		{"StringGT", Child("name", GT, "u2"), "{" + u3 + "}"},
		{"StringLTE", Child("name", LTE, "u2"), "{" + u1 + "," + u2 + "}"},
		{"StringGTE", Child("name", GTE, "u2"), "{" + u2 + "," + u3 + "}"},
		{"NumberEQ", Child("age", EQ, 10), "{" + u2 + "}"},
		{"NumberNEQ", Child("age", NEQ, 10), "{" + u1 + "," + u3 + "}"},
		{"NumberLT", Child("age", LT, 10), "{" + u1 + "}"},
		{"NumberGT", Child("age", GT, 10), "{" + u3 + "}"},
		{"NumberLTE", Child("age", LTE, 10), "{" + u1 + "," + u2 + "}"},
		{"NumberGTE", Child("age", GTE, 10), "{" + u2 + "," + u3 + "}"},
		{"AND", And(Child("age", GT, 9), Child("name", LT, "u3")), "{" + u2 + "}"},
		{"OR", Or(Child("age", LT, 10), Child("age", GT, 20)), "{" + u1 + "," + u3 + "}"},
		{"Nested", Or(And(Child("age", GT, 9), Child("name", LT, "u3")), Child("name", EQ, "u1")), "{" + u1 + "," + u2 + "}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, mustGet(t, s, "/users", NewGetOptions().SetFilter(tt.filter)), tt.filter.String())
		})
	}

	t.Run("WithWindow", func(t *testing.T) {
		opts := NewGetOptions().SetFilter(Child("age", GTE, 9)).SetOrder(Descending).SetLimitToFirst(2)
		assert.Equal(t, `{"u3":{"name":"u3","age":21},"u2":{"name":"u2","age":10}}`, mustGet(t, s, "/users", opts))
	})
	t.Run("NoMatch", func(t *testing.T) {
		st, err := s.Get(t.Context(), "/users", NewGetOptions().SetFilter(Child("age", GT, 100)))
		require.NoError(t, err)
		assert.Nil(t, st)
	})
	t.Run("NotIndexed", func(t *testing.T) {
		for _, f := range []Filter{
			Child("city", EQ, "Tampa"),
			And(Child("age", EQ, 1), Child("city", EQ, "Tampa")),
			And(),
		} {
			_, err := s.Get(t.Context(), "/users", NewGetOptions().SetFilter(f))
			assert.ErrorIs(t, err, ErrInvalidFilter, f.String())
		}
	})
}

func TestStore_Corrupt(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	mustSet(t, s, "/c", `{"good":"ok"}`)
	_, err := s.db.ExecContext(ctx, "INSERT INTO jsondb (path, value) VALUES ('/c/bad/', 'zzz')")
	require.NoError(t, err)
	assert.Equal(t, `{"good":"ok"}`, mustGet(t, s, "/c", nil))
	_, err = s.GetBytes(ctx, "/c/bad", nil)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestStore_Transaction(t *testing.T) {
	s := newTestStore(t)
	ctx := t.Context()
	errBoom := errors.New("boom")

	err := s.WithTransaction(ctx, func(tx *Tx) error {
		if err := tx.SetString(ctx, "/a", `1`); err != nil {
			return err
		}
		got, ok, err := tx.GetString(ctx, "/a", nil)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "1", got)
		return errBoom
	})
	require.ErrorIs(t, err, errBoom)
	ok, err := s.Exists(ctx, "/a")
	require.NoError(t, err)
	assert.False(t, ok, "rolled back write is visible")

	err = s.WithTransaction(ctx, func(tx *Tx) error {
		if err := tx.SetString(ctx, "/a", `{"x":1}`); err != nil {
			return err
		}
		if err := tx.UpdateString(ctx, "/a", `{"y":2}`); err != nil {
			return err
		}
		if _, err := tx.PushBytes(ctx, "/log", []byte(`"entry"`)); err != nil {
			return err
		}
		serr := tx.WithSavepoint(ctx, func(tx *Tx) error {
			if err := tx.SetString(ctx, "/b", `true`); err != nil {
				return err
			}
			return errBoom
		})
		assert.ErrorIs(t, serr, errBoom)
		ok, err := tx.Exists(ctx, "/b")
		assert.NoError(t, err)
		assert.False(t, ok, "savepoint write survived its rollback")
		return tx.WithSavepoint(ctx, func(tx *Tx) error {
			_, err := tx.Delete(ctx, "/a/y")
			return err
		})
	})
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, mustGet(t, s, "/a", nil))
	ok, err = s.Exists(ctx, "/log")
	require.NoError(t, err)
	assert.True(t, ok, "pushed entry missing")
}

func TestStore_Metrics(t *testing.T) {
	s := newTestStore(t)
	okBefore := testutil.ToFloat64(metricOperations.WithLabelValues("set", "ok"))
	badBefore := testutil.ToFloat64(metricOperations.WithLabelValues("set", "invalid_path"))
	mustSet(t, s, "/m", `1`)
	_ = s.SetString(t.Context(), "/m.x", `1`)
	assert.InDelta(t, 1, testutil.ToFloat64(metricOperations.WithLabelValues("set", "ok"))-okBefore, 0)
	assert.InDelta(t, 1, testutil.ToFloat64(metricOperations.WithLabelValues("set", "invalid_path"))-badBefore, 0)
}

func TestProbeDialect(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	defer func() { _ = db.Close() }()
	d, err := ProbeDialect(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", d.Name())
}
