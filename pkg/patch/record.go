package patch

import (
	"go.uber.org/atomic"
)

var (
	patchSeqNo = atomic.NewUint64(0)
)

// Record 补丁信息
type Record struct {
	ID   uint64 // 补丁编号
	Addr uint64 // 补丁地址
	Orig byte   // 首次打补丁前的原始数据，之后不再改变
	New  byte   // 当前写入的数据
}

// 在地址addr处创建补丁记录，原始的1字节数据为orig
func newRecord(addr uint64, orig, b byte) *Record {
	return &Record{
		ID:   patchSeqNo.Add(1),
		Addr: addr,
		Orig: orig,
		New:  b,
	}
}

// Records 按地址排序的补丁列表
type Records []Record

// Len 返回长度
func (r Records) Len() int {
	return len(r)
}

// Less 检查r[i]的地址是否小于r[j]
func (r Records) Less(i, j int) bool {
	return r[i].Addr < r[j].Addr
}

// Swap 交换r[i]和r[j]
func (r Records) Swap(i, j int) {
	r[i], r[j] = r[j], r[i]
}

// ByID orders records by creation sequence.
type ByID []Record

func (b ByID) Len() int           { return len(b) }
func (b ByID) Less(i, j int) bool { return b[i].ID < b[j].ID }
func (b ByID) Swap(i, j int)      { b[i], b[j] = b[j], b[i] }
