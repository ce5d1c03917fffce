// Package sqlmap runs the SQL you already write and maps the results onto your types. Statements use :named placeholders, which are rewritten once per SQL text into the dialect's positional form and bound from an Args map or from a typed accessor table. Results are read in full and mapped through explicit or tag-derived records, with lossless type coercion. There is no query builder, no change tracking and no relationship loading.
//
//	ex := sqlmap.New(sqlmap.SQLite)
//	conn := sqlmap.Wrap(db)
//
//	heroes, err := sqlmap.Query[Hero](ctx, ex, conn,
//		"SELECT id, name FROM super_heroes WHERE age > :age", sqlmap.Args{"age": 30})
//
//	n, err := sqlmap.ExecuteFor(ctx, ex, conn,
//		"INSERT INTO super_heroes (id, name) VALUES (:id, :name)", hero, heroParams)

package sqlmap
