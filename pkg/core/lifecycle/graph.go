package lifecycle

import (
	"fmt"
	"sort"

	dag "github.com/begmaroman/go-dag"
)

// graphNode DAG节点（实现 go-dag 的 Identifiable 与 Hashable 接口）
// go-dag 按哈希判断节点是否重复，哈希必须由实例ID决定
type graphNode struct {
	InstanceID string `json:"instanceId"`
}

// ID 实现 Identifiable 接口
func (n *graphNode) ID() string {
	return n.InstanceID
}

// Hash 实现 Hashable 接口
func (n *graphNode) Hash() (dag.VHash, error) {
	return dag.ToHash(n.InstanceID)
}

// dependencyGraph 实例依赖图
// 边方向：前置实例 -> 依赖方实例，因此 parents 即依赖，children 即被依赖方
type dependencyGraph struct {
	d *dag.DAG[*graphNode]
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{d: dag.NewDAG[*graphNode]()}
}

func (g *dependencyGraph) addInstance(id string) error {
	if _, err := g.d.AddVertex(&graphNode{InstanceID: id}); err != nil {
		return fmt.Errorf("添加节点 %s 失败: %w", id, err)
	}
	return nil
}

// addDependency 记录 dependent 依赖 dependency；go-dag 在加边时拒绝环
func (g *dependencyGraph) addDependency(dependency, dependent string) error {
	if isEdge, _ := g.d.IsEdge(dependency, dependent); isEdge {
		return nil
	}
	if err := g.d.AddEdge(dependency, dependent); err != nil {
		return fmt.Errorf("添加边失败: %s -> %s: %w", dependency, dependent, err)
	}
	return nil
}

func (g *dependencyGraph) removeInstance(id string) {
	_ = g.d.DeleteVertex(id)
}

// dependencies 返回实例的前置实例ID（排序后）
func (g *dependencyGraph) dependencies(id string) []string {
	parents, err := g.d.GetParents(id)
	if err != nil {
		return nil
	}
	return sortedKeys(parents)
}

// dependents 返回依赖该实例的实例ID（排序后）
func (g *dependencyGraph) dependents(id string) []string {
	children, err := g.d.GetChildren(id)
	if err != nil {
		return nil
	}
	return sortedKeys(children)
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
