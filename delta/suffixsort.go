// Copyright 2003-2005 Colin Percival
// Copyright 2017 Robert Iannucci Jr. All rights reserved.
// Use of this source code is governed by a BSD-style license that can be
// found in the LICENSE file.

package delta

import "bytes"

// qsufsort builds a suffix array of old into iii, using Larsson and
// Sadakane's algorithm. This is the same construction bsdiff has used since
// 2003; it gives Diff its O(n log n) behavior instead of the quadratic
// blow-up a naive longest-common-substring search would have.
func qsufsort(iii []int, old []byte) {
	buckets := make([]int, 256)
	vvv := make([]int, len(iii))
	n := len(old)

	for i := 0; i < n; i++ {
		buckets[old[i]]++
	}
	for i := 1; i < 256; i++ {
		buckets[i] += buckets[i-1]
	}
	for i := 255; i > 0; i-- {
		buckets[i] = buckets[i-1]
	}
	buckets[0] = 0

	for i := 0; i < n; i++ {
		buckets[old[i]]++
		iii[buckets[old[i]]] = i
	}
	iii[0] = n

	for i := 0; i < n; i++ {
		vvv[i] = buckets[old[i]]
	}
	vvv[n] = 0

	for i := 1; i < 256; i++ {
		if buckets[i] == buckets[i-1]+1 {
			iii[buckets[i]] = -1
		}
	}
	iii[0] = -1

	for h := 1; iii[0] != -(n + 1); h += h {
		ln := 0
		i := 0
		for i < n+1 {
			if iii[i] < 0 {
				ln -= iii[i]
				i -= iii[i]
			} else {
				if ln != 0 {
					iii[i-ln] = -ln
				}
				ln = vvv[iii[i]] + 1 - i
				split(iii, vvv, i, ln, h)
				i += ln
				ln = 0
			}
		}
		if ln != 0 {
			iii[i-ln] = -ln
		}
	}

	for i := 0; i < n+1; i++ {
		iii[vvv[i]] = i
	}
}

func split(iii, vvv []int, start, ln, h int) {
	if ln < 16 {
		for k := start; k < start+ln; {
			j := 1
			x := vvv[iii[k]+h]
			for i := 1; k+i < start+ln; i++ {
				if vvv[iii[k+i]+h] < x {
					x = vvv[iii[k+i]+h]
					j = 0
				}
				if vvv[iii[k+i]+h] == x {
					iii[k+j], iii[k+i] = iii[k+i], iii[k+j]
					j++
				}
			}
			for i := 0; i < j; i++ {
				vvv[iii[k+i]] = k + j - 1
			}
			if j == 1 {
				iii[k] = -1
			}
			k += j
		}
		return
	}

	x := vvv[iii[start+(ln/2)]+h]
	var jj, kk int
	for i := start; i < start+ln; i++ {
		if vvv[iii[i]+h] < x {
			jj++
		} else if vvv[iii[i]+h] == x {
			kk++
		}
	}
	jj += start
	kk += jj

	i, j, k := start, 0, 0
	for i < jj {
		if vvv[iii[i]+h] < x {
			i++
		} else if vvv[iii[i]+h] == x {
			iii[i], iii[jj+j] = iii[jj+j], iii[i]
			j++
		} else {
			iii[i], iii[kk+k] = iii[kk+k], iii[i]
			k++
		}
	}
	for jj+j < kk {
		if vvv[iii[jj+j]+h] == x {
			j++
		} else {
			iii[jj+j], iii[kk+k] = iii[kk+k], iii[jj+j]
			k++
		}
	}

	if jj > start {
		split(iii, vvv, start, jj-start, h)
	}
	for i := 0; i < kk-jj; i++ {
		vvv[iii[jj+i]] = kk - 1
	}
	if jj == kk-1 {
		iii[jj] = -1
	}
	if start+ln > kk {
		split(iii, vvv, kk, start+ln-kk, h)
	}
}

// search finds the longest prefix match between new[scan:] and some
// position in old, using the suffix array iii built by qsufsort. It returns
// the match length and writes the matching old-position to *pos.
func search(iii []int, old, newb []byte, st, en int, pos *int) int {
	oldLen, newLen := len(old), len(newb)

	if en-st < 2 {
		x := matchlen(old[iii[st]:], newb)
		y := matchlen(old[iii[en]:], newb)
		if x > y {
			*pos = iii[st]
			return x
		}
		*pos = iii[en]
		return y
	}

	x := st + (en-st)/2
	cmpLen := min(oldLen-iii[x], newLen)
	if bytes.Compare(old[iii[x]:iii[x]+cmpLen], newb[:cmpLen]) < 0 {
		return search(iii, old, newb, x, en, pos)
	}
	return search(iii, old, newb, st, x, pos)
}

func matchlen(old, newb []byte) int {
	var i int
	for i < len(old) && i < len(newb) && old[i] == newb[i] {
		i++
	}
	return i
}
