// Package chunker splits source files into line-aligned blocks for
// embedding.
//
// Blocks aim for MaxBlockChars and may grow by MaxCharsTolerance before a
// split. Blocks under MinBlockChars are dropped, except a short tail which
// is folded into the block before it. Near the end of a file the split
// point backs up so the last block keeps at least MinRemainderChars. A
// single line longer than the limit is cut into MaxBlockChars pieces that
// share its line number.
//
// Each block carries a segment hash derived from its path, line range and
// content, which the indexer uses as the point identity.
package chunker
