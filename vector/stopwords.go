package vector

// stopwords is the fixed English stopword set dropped during tokenization.
// One- and two-letter words are already excluded by the minimum token
// length, so only longer function words are listed.
var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "but": {}, "for": {}, "nor": {}, "not": {},
	"are": {}, "was": {}, "were": {}, "been": {}, "being": {},
	"have": {}, "has": {}, "had": {}, "having": {},
	"does": {}, "did": {}, "doing": {},
	"will": {}, "would": {}, "could": {}, "should": {},
	"may": {}, "might": {}, "must": {}, "can": {}, "shall": {},
	"this": {}, "that": {}, "these": {}, "those": {},
	"you": {}, "your": {}, "yours": {},
	"they": {}, "them": {}, "their": {}, "theirs": {},
	"she": {}, "her": {}, "hers": {}, "him": {}, "his": {},
	"its": {}, "our": {}, "ours": {}, "who": {}, "whom": {}, "whose": {},
	"what": {}, "which": {}, "when": {}, "where": {}, "why": {}, "how": {},
	"all": {}, "each": {}, "every": {}, "both": {}, "few": {},
	"more": {}, "most": {}, "other": {}, "some": {}, "such": {},
	"only": {}, "own": {}, "same": {}, "than": {}, "too": {}, "very": {},
	"just": {}, "also": {}, "then": {}, "once": {}, "here": {}, "there": {},
	"about": {}, "into": {}, "over": {}, "after": {}, "under": {},
	"again": {}, "against": {}, "between": {}, "through": {},
	"during": {}, "before": {}, "above": {}, "below": {},
	"down": {}, "out": {}, "off": {}, "any": {}, "with": {}, "from": {},
}
