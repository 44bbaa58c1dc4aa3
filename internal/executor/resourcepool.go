package executor

import "github.com/weaveflow/weaveflow/internal/node"

// ResourcePool is a fixed set of counting semaphores, one per resource
// class, acquired in node.CanonicalOrder to avoid deadlock when a node
// declares more than one class (§4.3). This generalizes the teacher's
// single ad-hoc semaphore in parallel.go's branchExecutionCoordinator
// (`sem := make(chan struct{}, maxConcurrency)`) to the three fixed
// classes the spec names.
type ResourcePool struct {
	sems map[node.ResourceClass]chan struct{}
}

// NewResourcePool builds semaphores sized per class. A zero or negative
// limit is raised to 1, so every class is always gated.
func NewResourcePool(standard, llm, ai int) *ResourcePool {
	p := &ResourcePool{sems: make(map[node.ResourceClass]chan struct{}, 3)}
	p.sems[node.ResourceStandard] = make(chan struct{}, maxOne(standard))
	p.sems[node.ResourceLLM] = make(chan struct{}, maxOne(llm))
	p.sems[node.ResourceAI] = make(chan struct{}, maxOne(ai))
	return p
}

func maxOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// TryAcquire attempts a non-blocking acquire of every class in classes, in
// canonical order. On failure it releases anything already acquired and
// returns false, so a caller can leave the node in the ready set for the
// next scheduling iteration (§4.3 step 4).
func (p *ResourcePool) TryAcquire(classes []node.ResourceClass) bool {
	ordered := orderClasses(classes)
	acquired := make([]node.ResourceClass, 0, len(ordered))
	for _, c := range ordered {
		sem := p.sems[c]
		select {
		case sem <- struct{}{}:
			acquired = append(acquired, c)
		default:
			for _, a := range acquired {
				<-p.sems[a]
			}
			return false
		}
	}
	return true
}

// Release releases every class in classes, in reverse canonical order.
func (p *ResourcePool) Release(classes []node.ResourceClass) {
	ordered := orderClasses(classes)
	for i := len(ordered) - 1; i >= 0; i-- {
		<-p.sems[ordered[i]]
	}
}

func orderClasses(classes []node.ResourceClass) []node.ResourceClass {
	want := make(map[node.ResourceClass]struct{}, len(classes))
	for _, c := range classes {
		want[c] = struct{}{}
	}
	var ordered []node.ResourceClass
	for _, c := range node.CanonicalOrder {
		if _, ok := want[c]; ok {
			ordered = append(ordered, c)
		}
	}
	return ordered
}
