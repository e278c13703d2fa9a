package urlx

import "strings"

// shortenerHosts is the set of known link-shortener hostnames. The resolver
// only attempts expansion for hosts in this set; everything else is treated
// as already-final.
var shortenerHosts = map[string]struct{}{ //nolint: gochecknoglobals
	"bit.ly":          {},
	"goo.gl":          {},
	"t.co":            {},
	"tinyurl.com":     {},
	"ow.ly":           {},
	"is.gd":           {},
	"buff.ly":         {},
	"adf.ly":          {},
	"rebrand.ly":      {},
	"lnkd.in":         {},
	"rb.gy":           {},
	"s.id":            {},
	"shorturl.at":     {},
	"short.io":        {},
	"trib.al":         {},
	"po.st":           {},
	"bit.do":          {},
	"cutt.ly":         {},
	"mcaf.ee":         {},
	"su.pr":           {},
	"qr.ae":           {},
	"zpr.io":          {},
	"shor.by":         {},
	"tiny.cc":         {},
	"x.co":            {},
	"lnk.to":          {},
	"amzn.to":         {},
	"fb.me":           {},
	"ift.tt":          {},
	"j.mp":            {},
	"youtu.be":        {},
	"spr.ly":          {},
	"cli.re":          {},
	"wa.link":         {},
	"tele.cm":         {},
	"grabify.link":    {},
	"short.cm":        {},
	"v.gd":            {},
	"kutt.it":         {},
	"snip.ly":         {},
	"ttm.sh":          {},
	"gg.gg":           {},
	"prf.hn":          {},
	"chilp.it":        {},
	"qps.ru":          {},
	"clk.im":          {},
	"u.to":            {},
	"t2m.io":          {},
	"soo.gd":          {},
	"shorte.st":       {},
	"t.ly":            {},
	"smarturl.it":     {},
	"vn.tl":           {},
	"cbsn.ws":         {},
	"cnvrt.ly":        {},
	"ibm.co":          {},
	"es.pn":           {},
	"nyti.ms":         {},
	"wapo.st":         {},
	"apne.ws":         {},
	"reut.rs":         {},
	"trib.it":         {},
	"bloom.bg":        {},
	"for.tn":          {},
	"on.ft.com":       {},
	"on.mktw.net":     {},
	"lat.ms":          {},
	"washpo.st":       {},
	"cnet.co":         {},
	"g.co":            {},
	"hearsay.social":  {},
	"dlvr.it":         {},
	"relia.pe":        {},
	"go.aws":          {},
	"sforce.co":       {},
	"drd.sh":          {},
	"get.msgsndr.com": {},
	"expi.co":         {},
	"plnk.to":         {},
	"starturl.com":    {},
	"shortest.link":   {},
	"shorten.rest":    {},
	"w.wiki":          {},
	"r.fr24.com":      {},
	"win.gs":          {},
	"engt.co":         {},
	"go.nasa.gov":     {},
	"go.wired.com":    {},
}

// IsShortener reports whether hostname belongs to a known link shortener.
func IsShortener(hostname string) bool {
	_, ok := shortenerHosts[strings.ToLower(hostname)]

	return ok
}
