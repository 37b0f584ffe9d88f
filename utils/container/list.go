package container

import (
	"fmt"
	"log"
)

// IHasVAndLength 具有速度和长度属性的接口
// 功能：定义车辆作为链表元素时需要的关键信息接口
// 说明：便于在链表中快速计算元素之间的净间距
type IHasVAndLength interface {
	V() float64      // 获取速度
	Length() float64 // 获取长度
}

// ListNode 双向链表中的节点
// 功能：表示按S有序的双向链表中的一个节点
// 说明：S为沿车道的弧长位置（车头位置），Value为节点承载的车辆
type ListNode[T IHasVAndLength] struct {
	parent     *List[T]     // 所属链表
	prev, next *ListNode[T] // 前驱和后继节点
	S          float64      // 键值（沿车道的位置）
	Value      T            // 承载值
}

// String 获取节点的字符串表示
func (n *ListNode[T]) String() string {
	return fmt.Sprintf("Node{S:%v, Value:%+v}", n.S, n.Value)
}

// Prev 获取节点的前一个节点（更靠近车道起点）
func (n *ListNode[T]) Prev() *ListNode[T] {
	return n.prev
}

// Next 获取节点的下一个节点（更靠近车道终点）
func (n *ListNode[T]) Next() *ListNode[T] {
	return n.next
}

// Parent 获取节点所在的链表
func (n *ListNode[T]) Parent() *List[T] {
	return n.parent
}

// V 获取节点值的速度
func (n *ListNode[T]) V() float64 {
	return n.Value.V()
}

// L 获取节点值的长度
func (n *ListNode[T]) L() float64 {
	return n.Value.Length()
}

// InsertBefore 在节点前插入新节点
// 功能：在当前节点之前插入一个新节点
// 参数：add-要插入的新节点
// 说明：新节点不允许已经属于其他链表，否则panic
func (n *ListNode[T]) InsertBefore(add *ListNode[T]) {
	if add.parent != nil {
		log.Panic("insert node who already in list")
	}
	add.parent = n.parent
	add.next = n
	add.prev = n.prev
	n.prev = add
	if add.prev != nil {
		add.prev.next = add
	} else {
		add.parent.head = add
	}
	n.parent.length++
}

// InsertAfter 在节点后插入新节点
// 功能：在当前节点之后插入一个新节点
// 参数：add-要插入的新节点
// 说明：新节点不允许已经属于其他链表，否则panic
func (n *ListNode[T]) InsertAfter(add *ListNode[T]) {
	if add.parent != nil {
		log.Panic("insert node who already in list")
	}
	add.parent = n.parent
	add.prev = n
	add.next = n.next
	n.next = add
	if add.next != nil {
		add.next.prev = add
	} else {
		add.parent.tail = add
	}
	n.parent.length++
}

// List 按S升序维护的双向链表
// 功能：维护单条车道上车辆的有序排列
// 说明：头部为车道起点一侧（S最小），尾部为车道终点一侧（S最大），
// 车辆位置更新后通过PopUnsorted+Merge恢复有序性
type List[T IHasVAndLength] struct {
	ID         string       // 链表标识符（通常为车道ID）
	head, tail *ListNode[T] // 头尾节点指针
	length     int          // 链表长度
}

// String 获取链表的字符串表示
func (l *List[T]) String() string {
	return fmt.Sprintf("List{ID:%v}", l.ID)
}

// Keys 获取双向链表中所有节点的键值
func (l *List[T]) Keys() []float64 {
	keys := make([]float64, l.length)
	for i, node := 0, l.head; node != nil; i, node = i+1, node.next {
		keys[i] = node.S
	}
	return keys
}

// Values 获取双向链表中所有节点的值
func (l *List[T]) Values() []T {
	values := make([]T, l.length)
	for i, node := 0, l.head; node != nil; i, node = i+1, node.next {
		values[i] = node.Value
	}
	return values
}

// Len 获取双向链表长度
func (l *List[T]) Len() int {
	return l.length
}

// PushFront 向链表头部插入节点
// 功能：在链表头部添加一个新节点
// 参数：add-要插入的新节点
func (l *List[T]) PushFront(add *ListNode[T]) {
	if add.parent != nil {
		log.Panic("push front node who already in list")
	}
	add.next = nil
	add.prev = nil
	if l.head == nil {
		add.parent = l
		l.head = add
		l.tail = add
		l.length++
	} else {
		// length++和add.parent在InsertBefore中处理
		l.head.InsertBefore(add)
		l.head = add
	}
}

// PushBack 向链表尾部插入节点
// 功能：在链表尾部添加一个新节点
// 参数：add-要插入的新节点
func (l *List[T]) PushBack(add *ListNode[T]) {
	if add.parent != nil {
		log.Panic("push back node who already in list")
	}
	add.next = nil
	add.prev = nil
	if l.tail == nil {
		add.parent = l
		l.head = add
		l.tail = add
		l.length++
	} else {
		// length++和add.parent在InsertAfter中处理
		l.tail.InsertAfter(add)
		l.tail = add
	}
}

// Remove 从链表中移除节点
// 功能：从链表中删除指定的节点
// 参数：node-要删除的节点
// 说明：节点必须属于当前链表，否则panic
func (l *List[T]) Remove(node *ListNode[T]) {
	if node.parent != l {
		log.Panic("remove node from wrong list")
	}
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		l.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		l.tail = node.prev
	}
	node.prev = nil
	node.next = nil
	node.parent = nil
	l.length--
}

// First 获取链表头部节点
func (l *List[T]) First() *ListNode[T] {
	return l.head
}

// Last 获取链表尾部节点
func (l *List[T]) Last() *ListNode[T] {
	return l.tail
}

// PopUnsorted 移除逆序节点
// 功能：移除链表中键值逆序的节点（前驱节点的键值大于当前节点）
// 返回：被移除的逆序节点数组
// 算法说明：
// 1. 从头节点开始遍历链表
// 2. 检查每个节点与其前驱节点的键值关系
// 3. 如果前驱节点的键值大于当前节点，则移除当前节点
// 4. 将移除的节点添加到结果数组中
// 说明：位置更新后用于恢复链表的升序排列，与Merge配合使用
func (l *List[T]) PopUnsorted() (unsorted []*ListNode[T]) {
	for node := l.head; node != nil; {
		next := node.next
		if node.prev != nil && node.prev.S > node.S {
			l.Remove(node)
			unsorted = append(unsorted, node)
		}
		node = next
	}
	return unsorted
}

// Merge 批量插入节点
// 功能：将一组节点按S升序归并进链表
// 参数：adds-要插入的节点数组（无序亦可）
// 算法说明：
// 1. 对待插入数组按S排序
// 2. 与链表做归并插入
func (l *List[T]) Merge(adds []*ListNode[T]) {
	// 1. sort array (可优化)
	for i := 0; i < len(adds)-1; i++ {
		for j := i + 1; j < len(adds); j++ {
			if adds[i].S > adds[j].S {
				adds[i], adds[j] = adds[j], adds[i]
			}
		}
	}
	// 2. merge sort
	node := l.head
	for _, add := range adds {
		for node != nil && node.S < add.S {
			node = node.next
		}
		if node != nil {
			node.InsertBefore(add)
		} else {
			l.PushBack(add)
		}
	}
}
