package ledger

import (
	"crypto/sha256"
	"encoding/hex"
)

// ProofPath 单个叶节点的验真路径。
type ProofPath struct {
	LeafHash string
	Siblings []ProofStep
}

// BuildMerkleTree 构建 sha256 Merkle 树，返回根哈希与每个叶节点的路径（由叶到根）。
// 奇数层末尾节点与自身配对。
func BuildMerkleTree(leaves []Leaf) (root string, paths []ProofPath) {
	if len(leaves) == 0 {
		return "", nil
	}
	layer := make([]string, len(leaves))
	for i := range leaves {
		layer[i] = leaves[i].Hash
	}
	layers := [][]string{layer}
	for len(layer) > 1 {
		next := make([]string, 0, (len(layer)+1)/2)
		for i := 0; i < len(layer); i += 2 {
			left, right := layer[i], layer[i]
			if i+1 < len(layer) {
				right = layer[i+1]
			}
			next = append(next, hashPair(left, right))
		}
		layer = next
		layers = append(layers, layer)
	}
	root = layer[0]

	paths = make([]ProofPath, len(leaves))
	for leaf := range leaves {
		var steps []ProofStep
		idx := leaf
		for l := 0; l < len(layers)-1; l++ {
			row := layers[l]
			sib := idx ^ 1
			if sib >= len(row) {
				sib = idx
			}
			steps = append(steps, ProofStep{Hash: row[sib], Left: sib < idx})
			idx /= 2
		}
		paths[leaf] = ProofPath{LeafHash: leaves[leaf].Hash, Siblings: steps}
	}
	return root, paths
}

// VerifyProof 用路径重算根并与 proof.MerkleRoot 比对。
func VerifyProof(p *MerkleProof) bool {
	if p == nil || p.LeafHash == "" {
		return false
	}
	h := p.LeafHash
	for _, s := range p.Siblings {
		if s.Left {
			h = hashPair(s.Hash, h)
		} else {
			h = hashPair(h, s.Hash)
		}
	}
	return h == p.MerkleRoot
}

// HashEntry 对任意条目内容求 sha256 十六进制，作为叶节点哈希。
func HashEntry(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}
