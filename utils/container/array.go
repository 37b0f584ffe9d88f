package container

import (
	"sync"
)

// IIncrementalItem 支持增量更新的元素接口
// 功能：定义支持增量更新的元素必须实现的方法
// 说明：用于增量数组中元素的索引管理
type IIncrementalItem interface {
	Index() int         // 获取元素的索引
	SetIndex(index int) // 设置元素的索引
}

// IncrementalItemBase 增量元素基类
// 功能：提供增量元素的基础实现，包含索引管理功能
// 说明：可以作为其他结构体的嵌入字段，快速实现IIncrementalItem接口
type IncrementalItemBase struct {
	index int // 元素在数组中的索引
}

// Index 获取元素的索引
func (b *IncrementalItemBase) Index() int {
	return b.index
}

// SetIndex 设置元素的索引
func (b *IncrementalItemBase) SetIndex(index int) {
	b.index = index
}

// IncrementalArray 增量数组，支持增量维护元素的数组
// 功能：提供延迟的批量添加和删除，迭代期间请求的变更在Prepare时统一生效
// 说明：删除采用保序压缩而不是尾部交换，保证元素的相对顺序
// 在整个生命周期内与加入顺序一致
type IncrementalArray[T IIncrementalItem] struct {
	data        []T        // 主数据数组
	add         []T        // 待添加的元素列表
	remove      []T        // 待删除的元素列表
	addMutex    sync.Mutex // 添加操作的互斥锁
	removeMutex sync.Mutex // 删除操作的互斥锁
}

// NewIncrementalArray 创建增量数组
func NewIncrementalArray[T IIncrementalItem]() *IncrementalArray[T] {
	return &IncrementalArray[T]{
		data:   make([]T, 0),
		add:    make([]T, 0),
		remove: make([]T, 0),
	}
}

// Len 获取当前数组长度
func (a *IncrementalArray[T]) Len() int {
	return len(a.data)
}

// Data 获取原始数据
// 说明：返回的是当前已应用所有增量操作的数据，调用方不得修改
func (a *IncrementalArray[T]) Data() []T {
	return a.data
}

// Add 增加元素（等到Prepare时才会真正增加）
// 功能：将元素添加到待添加列表中
// 参数：value-要添加的元素
func (a *IncrementalArray[T]) Add(value T) {
	a.addMutex.Lock()
	defer a.addMutex.Unlock()
	a.add = append(a.add, value)
}

// Remove 删除元素（等到Prepare时才会真正删除）
// 功能：将元素添加到待删除列表中
// 参数：value-要删除的元素
func (a *IncrementalArray[T]) Remove(value T) {
	a.removeMutex.Lock()
	defer a.removeMutex.Unlock()
	a.remove = append(a.remove, value)
}

// Prepare 执行增量操作
// 功能：统一执行所有待处理的添加和删除操作
// 算法说明：
// 1. 将待删除元素的索引标记为删除
// 2. 对主数组做一次保序压缩，跳过被标记的位置
// 3. 将待添加元素追加到数组末尾
// 4. 重建所有受影响元素的索引
// 5. 清空待处理列表
// 说明：压缩保持剩余元素的相对顺序不变
func (a *IncrementalArray[T]) Prepare() {
	if len(a.remove) > 0 {
		removed := make(map[int]struct{}, len(a.remove))
		for _, x := range a.remove {
			removed[x.Index()] = struct{}{}
		}
		kept := a.data[:0]
		for i, x := range a.data {
			if _, ok := removed[i]; ok {
				continue
			}
			x.SetIndex(len(kept))
			kept = append(kept, x)
		}
		a.data = kept
	}
	for _, x := range a.add {
		x.SetIndex(len(a.data))
		a.data = append(a.data, x)
	}

	a.add = []T{}
	a.remove = []T{}
}
