package address

// 人名池。全部小写，仅含 a-z；短名（2 字母）刻意保留，
// 用来覆盖拼接过短时的数字后缀分支。

var firstNames = []string{
	"james", "john", "robert", "michael", "william", "david", "richard",
	"joseph", "thomas", "charles", "christopher", "daniel", "matthew",
	"anthony", "mark", "donald", "steven", "paul", "andrew", "joshua",
	"kenneth", "kevin", "brian", "george", "timothy", "ronald", "edward",
	"jason", "jeffrey", "ryan", "jacob", "gary", "nicholas", "eric",
	"jonathan", "stephen", "larry", "justin", "scott", "brandon",
	"benjamin", "samuel", "gregory", "frank", "alexander", "patrick",
	"raymond", "jack", "dennis", "jerry", "tyler", "aaron", "jose",
	"adam", "nathan", "henry", "douglas", "zachary", "peter", "kyle",
	"ethan", "walter", "noah", "jeremy", "christian", "keith", "roger",
	"terry", "austin", "sean", "gerald", "carl", "harold", "dylan",
	"arthur", "lawrence", "jordan", "jesse", "bryan", "billy", "bruce",
	"gabriel", "logan", "alan", "juan", "albert", "willie", "elijah",
	"wayne", "randy", "mason", "vincent", "liam", "roy", "bobby",
	"caleb", "bradley", "russell", "lucas", "mary", "patricia",
	"jennifer", "linda", "elizabeth", "barbara", "susan", "jessica",
	"sarah", "karen", "lisa", "nancy", "betty", "sandra", "margaret",
	"ashley", "kimberly", "emily", "donna", "michelle", "carol",
	"amanda", "melissa", "deborah", "stephanie", "rebecca", "laura",
	"amy", "anna", "ruth", "al", "bo", "ed", "jo", "ty",
}

var lastNames = []string{
	"smith", "johnson", "williams", "brown", "jones", "garcia",
	"miller", "davis", "rodriguez", "martinez", "hernandez", "lopez",
	"gonzalez", "wilson", "anderson", "thomas", "taylor", "moore",
	"jackson", "martin", "lee", "perez", "thompson", "white", "harris",
	"sanchez", "clark", "ramirez", "lewis", "robinson", "walker",
	"young", "allen", "king", "wright", "scott", "torres", "nguyen",
	"hill", "flores", "green", "adams", "nelson", "baker", "hall",
	"rivera", "campbell", "mitchell", "carter", "roberts", "gomez",
	"phillips", "evans", "turner", "diaz", "parker", "cruz", "edwards",
	"collins", "stewart", "morris", "murphy", "cook", "rogers",
	"morgan", "cooper", "reed", "bailey", "bell", "ward", "cox",
	"gray", "fox", "day", "kim",
}
