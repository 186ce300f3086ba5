package plan

// The query tree is a DAG of stages with exactly one designated root.
//
// 1) There is one root, which holds the entire query
// 2) Leaf nodes are sources that read partition sets out of the cache
// 3) Other nodes are operations that process their inputs
// 4) Edges hold a slot label naming the input of the parent operation
//
// Nodes live in an arena: a flat vector of tagged stage variants
// indexed by integer id, with edges as explicit (parent, child, slot)
// triples. Builder operations never mutate a tree; each one clones the
// arena and appends exactly one new root whose edges point backward at
// existing nodes, so a plan can never form a cycle and no holder of an
// older snapshot ever observes its tree change.
//
// Rewrite passes (see pushdown.go) follow the same rule: they take a
// (tree, root) pair and return a new pair, leaving the input intact.
