package sheet

// DependencyGraph links formula fields to the fields they read
type DependencyGraph struct {
	keys       []string            // formula fields, in sheet order
	formulas   map[string]bool
	precedents map[string][]string // field -> fields its formula reads
	dependents map[string][]string // field -> formula fields that read it
}

// NewDependencyGraph builds a graph from the fields each formula reads.
// keys fixes the iteration order so calculation order is stable.
func NewDependencyGraph(keys []string, reads map[string][]string) *DependencyGraph {
	g := &DependencyGraph{
		keys:       keys,
		formulas:   make(map[string]bool, len(keys)),
		precedents: make(map[string][]string, len(keys)),
		dependents: make(map[string][]string),
	}
	for _, key := range keys {
		g.formulas[key] = true
		for _, dep := range reads[key] {
			g.precedents[key] = append(g.precedents[key], dep)
			g.dependents[dep] = append(g.dependents[dep], key)
		}
	}
	return g
}

// CalculationOrder returns the formula fields so that every field comes
// after the formula fields it reads. Fields on a cycle, including a field
// that reads itself, are left out of the order and reported in cyclic.
//
// The walk is Tarjan's strongly connected components: a component is emitted
// only after every component it reads from.
func (g *DependencyGraph) CalculationOrder() (order []string, cyclic map[string]bool) {
	index := make(map[string]int, len(g.keys))
	lowlink := make(map[string]int, len(g.keys))
	onStack := make(map[string]bool, len(g.keys))
	cyclic = make(map[string]bool)
	var stack []string
	next := 0

	var visit func(key string)
	visit = func(key string) {
		index[key] = next
		lowlink[key] = next
		next++
		stack = append(stack, key)
		onStack[key] = true

		selfLoop := false
		for _, dep := range g.precedents[key] {
			if !g.formulas[dep] {
				continue
			}
			if dep == key {
				selfLoop = true
			}
			if _, seen := index[dep]; !seen {
				visit(dep)
				lowlink[key] = min(lowlink[key], lowlink[dep])
			} else if onStack[dep] {
				lowlink[key] = min(lowlink[key], index[dep])
			}
		}

		if lowlink[key] != index[key] {
			return
		}
		var component []string
		for {
			top := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			onStack[top] = false
			component = append(component, top)
			if top == key {
				break
			}
		}
		if len(component) > 1 || selfLoop {
			for _, k := range component {
				cyclic[k] = true
			}
			return
		}
		order = append(order, key)
	}

	for _, key := range g.keys {
		if _, seen := index[key]; !seen {
			visit(key)
		}
	}
	return order, cyclic
}

// Affected returns every formula field that directly or transitively reads
// one of the changed fields.
func (g *DependencyGraph) Affected(changed ...string) map[string]bool {
	affected := make(map[string]bool)
	queue := append([]string(nil), changed...)
	for len(queue) > 0 {
		key := queue[0]
		queue = queue[1:]
		for _, dep := range g.dependents[key] {
			if !affected[dep] {
				affected[dep] = true
				queue = append(queue, dep)
			}
		}
	}
	return affected
}
