// Package jsondb stores one JSON document tree in a single relational table.
//
// Every scalar leaf is one row keyed by its path, for example the document
// {"users":{"u1":{"age":9}}} at "/" is the row ("/users/u1/age/", "[9").
// Array positions become path segments that sort in positional order and
// values are encoded so that string order matches value order. Reading a
// subtree is an ordered range scan; the JSON is rebuilt from the rows as they
// stream.
//
// Properties declared with WithIndexes carry the index name in the idx
// column, which lets Filter expressions select children with SQL INTERSECT
// and UNION over the index rows.
package jsondb
