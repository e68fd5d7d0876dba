// Package bashscope provides include-aware name resolution for shell
// scripts built on tree-sitter. It answers which files a script pulls in
// through source and ".", which files pull a script in, and where a name
// used in a script is declared once those includes are taken into account.
//
// # Pipeline
//
// An [Engine] owns one project session:
//
//  1. Parse: each script is parsed with the tree-sitter bash grammar. Every
//     content change produces a new tree version.
//
//  2. Extract: inclusion statements are read from the tree and their path
//     arguments evaluated statically. Script-directory idioms such as
//     $(dirname "$0") and ${BASH_SOURCE%/*} resolve to the includer's
//     directory; other expansions make the include dynamic unless an
//     optional Risor resolver script maps them to a path.
//
//  3. Graph: edges feed a forward and reverse inclusion index. Transitive
//     queries are memoized by graph version; a file is re-extracted lazily,
//     the first time a query runs after its tree changed.
//
// # Usage
//
//	e, err := bashscope.New("path/to/project")
//	if err != nil { ... }
//	defer e.Close()
//
//	ctx := context.Background()
//	err = e.IndexDirectory(ctx)
//
//	inc, err := e.IncludedFiles(ctx, "bin/deploy.sh", true)
//	d, err := e.DefinitionAt(ctx, "bin/deploy.sh", 12, 4)
//
// # Query API
//
//   - [Engine.IncludedFiles]: files a script includes, directly or
//     transitively, in the order a shell would evaluate them.
//   - [Engine.IncludingFiles]: every file that transitively includes a script.
//   - [Engine.Resolve] and [Engine.DefinitionAt]: go-to-declaration across
//     includes. The first match in inclusion order wins.
//   - [Engine.SearchScopeFor] and [Engine.UseScopeAt]: the files where
//     references to a declaration may appear.
//   - [Engine.ResolveScope]: the files whose declarations a script can see.
//   - [Engine.CircularIncludes]: include cycles.
//
// Results carry a Widened flag when unresolved includes exist, telling the
// caller that the precise answer may be incomplete.
//
// # Persistence
//
// With [WithStore], [Engine.Persist] writes a snapshot of files, includes
// and declarations to SQLite so the CLI can answer graph queries without
// reparsing.
package bashscope
