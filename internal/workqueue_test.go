package internal

import (
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskGrouperCoalesces(t *testing.T) {
	c := make(chan mergeTask)

	g := taskGrouper{}
	pull, _ := iter.Pull(g.group(c))

	c <- mergeTask{kind: definitiveIDTask, parentID: "isbn:100", childIDs: newSet("k1")}
	c <- mergeTask{kind: definitiveIDTask, parentID: "isbn:100", childIDs: newSet("k2", "k3")}
	c <- mergeTask{kind: editionGroupTask, parentID: "isbn:100", childIDs: newSet("k4")}

	task, _ := pull()
	assert.Equal(t, definitiveIDTask, task.kind)
	assert.Equal(t, newSet("k1", "k2", "k3"), task.childIDs)

	task, _ = pull()
	assert.Equal(t, editionGroupTask, task.kind)
	assert.Equal(t, newSet("k4"), task.childIDs)
}

func TestDropOldestBufferDropsUnderPressure(t *testing.T) {
	b := newDropOldestBuffer[int](2)
	b.push(1)
	b.push(2)
	b.push(3)

	assert.Equal(t, 2, b.len())
	v, ok := b.peek()
	assert.True(t, ok)
	assert.Equal(t, 2, v)
}

func TestAccumulateDeliversInOrder(t *testing.T) {
	producer := make(chan int)
	out := accumulate[int](producer, &slicebuffer[int]{})

	go func() {
		producer <- 1
		producer <- 2
		producer <- 3
		close(producer)
	}()

	var got []int
	for v := range out {
		got = append(got, v)
	}
	assert.Equal(t, []int{1, 2, 3}, got)
}
